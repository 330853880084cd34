package main

import (
	"context"

	"github.com/trezcool/shule/core/user"
)

// addUser creates a new user.User
func (cli *commandLine) addUser(orgID, name, email, pwd string, roles []string) error {
	_, err := cli.usrSvc.Create(context.Background(), user.NewUser{
		OrgID:    orgID,
		Name:     name,
		Email:    email,
		Password: pwd,
		Roles:    roles,
	})
	return err
}
