package main

import (
	"log"
	"os"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/integration"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/services/learning"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
	sqlxrepos "github.com/trezcool/shule/storage/database/sqlx"
)

var stdLogger *log.Logger

func main() {
	defer os.Exit(0)

	stdLogger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	logger := logsvc.NewRollbarLogger(stdLogger, core.Conf)
	logger.Enable(!core.Conf.Debug)

	// set up DB
	db, err := database.Open(core.Conf)
	errAndDie(err)
	defer func() { _ = db.Close() }()
	errAndDie(database.Ping(db))

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo)
	intSvc := integration.NewService(
		sqlxrepos.NewIntegrationRepository(db),
		usrRepo,
		learning.NewRegistry(logger),
		learning.NewTester(),
		mailSvc,
		logger,
	)

	// start CLI
	cli := commandLine{
		db:     db.DB,
		usrSvc: usrSvc,
		intSvc: intSvc,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			stdLogger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		stdLogger.Fatal(err)
	}
}
