/*
Copyright 2024 Docbridge Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/docbridge/docbridge"
	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/database"
	"github.com/docbridge/docbridge/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Docbridge represents the CLI application, encapsulating the root Cobra command.
type Docbridge struct {
	cmd *cobra.Command
}

// docbridgeInstance holds the pipeline instance and its configuration, shared
// between the subcommands.
type docbridgeInstance struct {
	docbridge *docbridge.Docbridge
	cnf       *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the pipeline instance
// before running any command.
func preRun(app *docbridgeInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("docbridge.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newDocbridge, err := setupDocbridge(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.docbridge = newDocbridge
		app.cnf = cnf

		return nil
	}
}

// setupDocbridge creates and initializes a pipeline instance backed by the
// configured data source.
func setupDocbridge(cfg *config.Configuration) (*docbridge.Docbridge, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newDocbridge, err := docbridge.NewDocbridge(db)
	if err != nil {
		return nil, fmt.Errorf("error creating docbridge: %v", err)
	}
	return newDocbridge, nil
}

// NewCLI creates the command-line interface for the Docbridge application.
// It sets up the root command and the server, worker, migration and backup
// subcommands.
func NewCLI() *Docbridge {
	var configFile string
	b := &docbridgeInstance{}

	var rootCmd = &cobra.Command{
		Use:   "docbridge",
		Short: "Document intake pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./docbridge.json", "Configuration file for docbridge")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(backupCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Docbridge{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Docbridge) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
