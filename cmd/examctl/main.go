package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"examprep-backend/internal/database"
	"examprep-backend/internal/middleware"
)

var rootCmd = &cobra.Command{
	Use:   "examctl",
	Short: "Local development helpers for the exam session backend",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load()
	},
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user id (signed with JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				id = parsed
			}

			token, err := middleware.NewJWTAuth(secret).GenerateAccessToken(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user_id: %s\ntoken:   %s\n", id, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var (
		path    string
		topicID string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add questions to a topic in the embedded SQLite store",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := uuid.New()
			if topicID != "" {
				parsed, err := uuid.Parse(topicID)
				if err != nil {
					return fmt.Errorf("invalid --topic: %w", err)
				}
				topic = parsed
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}

			db, err := database.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer db.Close()

			ids, err := database.SeedQuestions(context.Background(), db, topic, count)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "topic_id: %s\n", topic)
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "  question %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "sqlite", "examprep.db", "SQLite database path")
	cmd.Flags().StringVar(&topicID, "topic", "", "topic id (random when empty)")
	cmd.Flags().IntVar(&count, "count", 10, "number of questions to add")
	return cmd
}

func main() {
	rootCmd.AddCommand(newTokenCmd(), newSeedCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
