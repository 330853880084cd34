package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shule/core/integration"
)

// sync triggers a sync run for an organization's platform and prints the counts.
func (cli *commandLine) sync(orgID, platform string) error {
	res, err := cli.intSvc.Run(context.Background(), orgID, integration.Platform(platform))
	if err != nil {
		return err
	}
	fmt.Printf("synced %d enrollments, %d progress rows\n", res.EnrollmentsSynced, res.ProgressSynced)
	return nil
}
