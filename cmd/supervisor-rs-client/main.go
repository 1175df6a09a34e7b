// Command supervisor-rs-client is the operator-facing CLI:
// supervisor-rs-client <verb> [<name>] [on <hosts>] [with <keypath>]
package main

import (
	"fmt"
	"os"

	"github.com/ccqpein/supervisor-rs/client"
)

func main() {
	args := os.Args[1:]
	if len(args) == 1 && (args[0] == "help" || args[0] == "-h") {
		fmt.Print(client.Usage())
		os.Exit(0)
	}

	results, err := client.Run(args)
	if err != nil {
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", r.Target, r.Err)
			} else {
				fmt.Printf("%s: %s\n", r.Target, r.Reply)
			}
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	for _, r := range results {
		fmt.Printf("%s: %s\n", r.Target, r.Reply)
	}
	os.Exit(0)
}
