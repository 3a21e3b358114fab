package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"blogapi/account"
	"blogapi/common"
	"blogapi/database"
	"blogapi/email"
	"blogapi/posts"
	"blogapi/search"
	"blogapi/server"
)

var (
	// createuser flags
	username string
	password string
	staff    bool
)

var rootCmd = &cobra.Command{
	Use:   "blogapi",
	Short: "Blog API server with likes, ratings and favorites",
	Long: `blogapi serves a JSON API for posts, tags, comments and per-user
post relations (like, favorite, rating).

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations and start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := open()
		if err != nil {
			return err
		}
		return database.RunMigrations(db)
	},
}

var createUserCmd = &cobra.Command{
	Use:   "createuser",
	Short: "Create a user account",
	Long: `Create a user account from the command line.

Examples:
  blogapi createuser --username admin --password secret --staff`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := open()
		if err != nil {
			return err
		}
		if err := database.RunMigrations(db); err != nil {
			return err
		}
		user, err := account.CreateUser(cmd.Context(), db, username, password, staff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id=%d, staff=%t)\n", user.Username, user.ID, user.IsStaff)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&username, "username", "", "Username for the new account")
	createUserCmd.Flags().StringVar(&password, "password", "", "Password for the new account")
	createUserCmd.Flags().BoolVar(&staff, "staff", false, "Allow the account to edit and delete any post")
	createUserCmd.MarkFlagRequired("username")
	createUserCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(serveCmd, migrateCmd, createUserCmd)
}

func open() (*common.Config, *gorm.DB, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := common.ConnectDb(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func runServe(ctx context.Context) error {
	cfg, db, err := open()
	if err != nil {
		return err
	}

	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET environment variable not set")
	}

	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var index posts.SearchIndex
	if cfg.ElasticsearchURL != "" {
		es, err := search.NewElasticIndex(cfg.ElasticsearchURL, cfg.ElasticsearchIndex)
		if err != nil {
			return err
		}
		if err := es.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("prepare search index: %w", err)
		}
		index = es
		log.Printf("Using Elasticsearch index %q at %s", cfg.ElasticsearchIndex, cfg.ElasticsearchURL)
	}

	router := server.NewRouter(db, cfg, email.NewEmailService(cfg), index)

	log.Printf("Starting server on port %s...", cfg.Port)
	return router.Run(":" + cfg.Port)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
