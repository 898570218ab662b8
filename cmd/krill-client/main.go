// krill-client talks to a running krill-server over TCP.
//
//	krill-client [--addr ip:port] get <KEY>
//	krill-client [--addr ip:port] set <KEY> <VALUE>
//	krill-client [--addr ip:port] rm <KEY>
//	krill-client -V
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"krill/internal/config"
	"krill/internal/network"
	"krill/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [--addr ip:port] <command>

commands:
  get <KEY>          print the value stored under KEY
  set <KEY> <VALUE>  store VALUE under KEY
  rm <KEY>           remove KEY

flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	showVersion := flag.Bool("V", false, "print version and exit")
	addr := flag.String("addr", config.DefaultAddr, "server address (ip:port)")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	// Usage errors are caught before dialing so they exit 2 even when no
	// server is reachable.
	if want, ok := map[string]int{"get": 2, "set": 3, "rm": 2}[args[0]]; !ok || len(args) != want {
		usage()
		os.Exit(2)
	}

	client, err := network.Dial(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	switch args[0] {
	case "get":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		value, ok, err := client.Get(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("Key not found")
			return
		}
		fmt.Println(value)

	case "set":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		if err := client.Set(args[1], args[2]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

	case "rm":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := client.Rm(args[1]); err != nil {
			var serverErr *network.ServerError
			if errors.As(err, &serverErr) && serverErr.Message == "Key not found" {
				fmt.Println("Key not found")
				os.Exit(1)
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

	default:
		usage()
		os.Exit(2)
	}
}
