package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	EnvFile  string `long:"env-file" description:"Load settings from this file instead of .env"`
	LogLevel string `long:"log-level" description:"Override LOG_LEVEL (debug, info, warn, error)"`

	Run    RunCommand    `command:"run" description:"Analyze mailboxes and deliver their digests"`
	Serve  ServeCommand  `command:"serve" description:"Serve the mark-as-dealt-with webhook, optionally with scheduled digests"`
	Expire ExpireCommand `command:"expire" description:"Remove expired suppressions"`
	Browse BrowseCommand `command:"browse" description:"Analyze one mailbox and browse the results in the terminal"`
	Login  LoginCommand  `command:"login" description:"Authorize Gmail access and cache the token"`
}

var opts Options

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "followup"
	parser.LongDescription = "Finds sent mail that still needs a reply or a nudge and builds a daily digest."

	// flags.Default prints parse and command errors itself.
	if _, err := parser.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
