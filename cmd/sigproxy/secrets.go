package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/allaspectsdev/sigproxy/internal/secret"
	"golang.org/x/term"
)

func cmdSecrets(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: sigproxy secrets <list|set|delete> [name]")
		os.Exit(1)
	}

	s := secret.New()

	switch args[0] {
	case "list":
		names := s.List()
		if len(names) == 0 {
			fmt.Println("No secrets stored")
			return
		}
		for _, n := range names {
			fmt.Printf("  %s: ****\n", n)
		}

	case "set":
		if len(args) < 2 {
			fmt.Println("Usage: sigproxy secrets set <name>")
			os.Exit(1)
		}
		name := args[1]
		fmt.Printf("Enter value for %s: ", name)
		value, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading value: %v\n", err)
			os.Exit(1)
		}
		if err := s.Set(name, string(value)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret %s stored successfully\n", name)

	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: sigproxy secrets delete <name>")
			os.Exit(1)
		}
		name := args[1]
		if err := s.Delete(name); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret %s deleted\n", name)

	default:
		fmt.Fprintf(os.Stderr, "unknown secrets command: %s\n", args[0])
		os.Exit(1)
	}
}
