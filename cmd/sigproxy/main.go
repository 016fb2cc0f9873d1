package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "setup":
		cmdSetup(os.Args[2:])
	case "secrets":
		cmdSecrets(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "install-service":
		cmdInstallService()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "config-import":
		cmdConfigImport(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: sigproxy <command> [options]

Commands:
  start            Start the sigproxy gateway
  stop             Stop the running gateway
  status           Show gateway status and credential summary
  setup            Interactive setup wizard
  secrets          Manage secret material (list|set|delete <name>)
  init-config      Generate default config file
  config-export    Export current config to a TOML file
  config-import    Import config from a TOML file
  install-service  Install as system service (launchd on macOS)
  help             Show this help message

Options:
  --foreground       Run in foreground (with 'start')
  --non-interactive  Skip interactive prompts (with 'setup')`)
}
