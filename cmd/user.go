/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/db"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/types"
)

// userCmd groups account maintenance commands.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user with any role, e.g. the first Administrator",
	Long: `Creates a user directly in the database. Usage:

	libraryd user create --username admin --email admin@example.com --password secret --role Administrator
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		username, _ := flags.GetString("username")
		email, _ := flags.GetString("email")
		password, _ := flags.GetString("password")
		role, _ := flags.GetString("role")

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		users := services.NewUserService(store.NewUserRepository(conn), store.NewRoleRepository(conn), logger)
		if err := users.SeedRoles(cmd.Context()); err != nil {
			return err
		}

		user, err := users.CreateUser(cmd.Context(), services.NewUser{
			Username: username,
			Email:    email,
			Password: password,
			Role:     types.RoleName(role),
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		logger.Info("user created", zap.Int("id", user.ID), zap.String("username", user.Username), zap.String("role", string(user.Role)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().String("username", "", "username of the new account")
	userCreateCmd.Flags().String("email", "", "email used to log in")
	userCreateCmd.Flags().String("password", "", "initial password")
	userCreateCmd.Flags().String("role", string(types.RoleAdministrator), "Student, Librarian or Administrator")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("password")
}
