package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/shule/core/integration"
	"github.com/trezcool/shule/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db     *sql.DB
	usrSvc *user.Service
	intSvc *integration.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [args] - run database migrations (up, down, status, ...)")
	fmt.Println("  sync -org ORG -platform PLATFORM - trigger a sync for an organization's platform")
	fmt.Println("  adduser -org ORG -name NAME -email EMAIL [-roles ROLES] - create a user; the password is prompted next")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	syncOrg := syncCmd.String("org", "", "The organization id.")
	syncPlatform := syncCmd.String("platform", "", "The learning platform (coursera, udemy, pluralsight).")

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserOrg := addUserCmd.String("org", "", "The organization id.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserRoles := addUserCmd.String("roles", user.RoleStudent, "Comma-separated roles.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "sync":
		if err := syncCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *syncOrg == "" || *syncPlatform == "" {
			syncCmd.Usage()
			return errHelp
		}
		return cli.sync(*syncOrg, *syncPlatform)
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserOrg == "" || *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserOrg, *addUserName, *addUserEmail, string(pwd), strings.Split(*addUserRoles, ","))
	default:
		cli.printUsage()
		return errHelp
	}
}
