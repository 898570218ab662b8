// krill operates directly on a local data directory, without a server.
//
//	krill [--dir path] get <KEY>
//	krill [--dir path] set <KEY> <VALUE>
//	krill [--dir path] rm <KEY>
//	krill [--dir path] list
//	krill -V
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"krill/internal/engine"
	"krill/internal/store"
	"krill/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [--dir path] <command>

commands:
  get <KEY>          print the value stored under KEY
  set <KEY> <VALUE>  store VALUE under KEY
  rm <KEY>           remove KEY
  list               print every entry as "key -> value"

flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	showVersion := flag.Bool("V", false, "print version and exit")
	dir := flag.String("dir", ".", "data directory")
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
	// Usage errors are caught before the store is opened so they exit 2
	// and leave the data directory untouched.
	if want, ok := map[string]int{"get": 2, "set": 3, "rm": 2, "list": 1}[args[0]]; !ok || len(args) != want {
		usage()
		os.Exit(2)
	}

	s, err := store.Open(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer s.Close()

	switch args[0] {
	case "get":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		value, ok, err := s.Get(args[1])
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
		if err := s.Set(args[1], args[2]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

	case "rm":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		if err := s.Remove(args[1]); err != nil {
			if errors.Is(err, engine.ErrKeyNotFound) {
				fmt.Println("Key not found")
				os.Exit(1)
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

	case "list":
		if len(args) != 1 {
			usage()
			os.Exit(2)
		}
		entries, err := s.Entries()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Printf("%s -> %s\n", e[0], e[1])
		}

	default:
		usage()
		os.Exit(2)
	}
}
