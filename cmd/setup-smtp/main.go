// Command setup-smtp records the SMTP server in <dir>/conf.yaml and stores
// its password sealed in <dir>/password_email.txt.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/andrej220/probemanager/internal/smtpsetup"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: setup-smtp <config dir>")
		os.Exit(2)
	}
	p := &smtpsetup.Prompter{
		In:  bufio.NewReader(os.Stdin),
		Out: os.Stdout,
		Password: func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(b), err
		},
	}
	smtp, password, err := p.Ask()
	if err == nil {
		err = smtpsetup.Write(os.Args[1], smtp, password)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup-smtp:", err)
		os.Exit(1)
	}
	fmt.Println("SMTP settings saved")
}
