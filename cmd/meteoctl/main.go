// meteoctl is the interactive client for meteod.
//
// With a command on the command line it runs that command once. Without
// one it opens a prompt when stdin is a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/meteo/internal/client"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8000", "meteod base URL")
	token := flag.String("token", "", "admin token (or METEO_TOKEN env)")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	authToken := *token
	if authToken == "" {
		authToken = os.Getenv("METEO_TOKEN")
	}

	c, err := client.New(&client.Config{
		Addr:           *addr,
		Token:          authToken,
		TLSSkipVerify:  *insecure,
		RequestTimeout: *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "meteoctl: %v\n", err)
		os.Exit(2)
	}
	defer c.Close()

	sh := &shell{client: c, out: os.Stdout}

	if args := flag.Args(); len(args) > 0 {
		if err := sh.exec(context.Background(), args); err != nil {
			fmt.Fprintf(os.Stderr, "meteoctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		usage()
		os.Exit(2)
	}

	fmt.Printf("meteoctl %s connected to %s. Type 'help' for commands.\n", Version, c.Addr())
	p := prompt.New(
		sh.executor,
		sh.completer,
		prompt.OptionPrefix("meteo> "),
		prompt.OptionTitle("meteoctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isExit(in)
		}),
	)
	p.Run()
}

func isExit(line string) bool {
	switch strings.TrimSpace(line) {
	case "exit", "quit":
		return true
	}
	return false
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: meteoctl [flags] [command [args]]\n\nflags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\ncommands:\n")
	printHelp(os.Stderr)
}
