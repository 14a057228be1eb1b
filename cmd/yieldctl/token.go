package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mmeshcher/yieldmart/internal/config"
	"github.com/mmeshcher/yieldmart/internal/middleware"
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("user", "", "user id (UUID)")
	tokenCmd.Flags().String("role", middleware.RoleUser, "token role: user or admin")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an access token signed with JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE:  issueToken,
}

func issueToken(cmd *cobra.Command, args []string) error {
	rawUser, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	if role != middleware.RoleUser && role != middleware.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}

	token, err := middleware.NewAuthMiddleware(cfg.JWTSecret).IssueToken(userID, role, ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
