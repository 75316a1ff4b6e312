package main

import (
	"github.com/spf13/cobra"

	"github.com/anthropics/claude-cli-gateway/config"
	"github.com/anthropics/claude-cli-gateway/internal/gwlog"
	"github.com/anthropics/claude-cli-gateway/internal/session"
	"github.com/anthropics/claude-cli-gateway/internal/task"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create the session and task store schema if it does not already exist",
	RunE:  doMigrate,
}

func doMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}
	log := gwlog.New(flagVerbose)

	sessions, err := session.Open(session.Config{Path: cfg.Storage.DBPath, MaxSessionsPerKey: cfg.Session.MaxSessionsPerKey}, log)
	if err != nil {
		return err
	}
	defer sessions.Close()

	tasks, err := task.Open(task.Config{Path: cfg.Storage.DBPath}, log)
	if err != nil {
		return err
	}
	defer tasks.Close()

	log.Info("schema up to date", "dbPath", cfg.Storage.DBPath)
	return nil
}
