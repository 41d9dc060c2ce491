// Copyright 2026 goryl Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/client"
	"github.com/zaillisy/goryl/cmd/version"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

var cliCommand = &cobra.Command{
	Use:   "goryl-cli",
	Short: "CLI for goryl personalization service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			log.SetLogger(cmd.Flags(), true)
		} else {
			log.CloseLogger()
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Check the version of goryl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

func newClient(cmd *cobra.Command) *client.GorylClient {
	endpoint, _ := cmd.Flags().GetString("endpoint")
	apiKey, _ := cmd.Flags().GetString("api-key")
	return client.NewGorylClient(endpoint, apiKey)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}

func init() {
	log.AddFlags(cliCommand.PersistentFlags())
	cliCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	cliCommand.PersistentFlags().String("endpoint", "http://127.0.0.1:8087", "goryl server endpoint")
	cliCommand.PersistentFlags().String("api-key", "", "goryl server api key")
	cliCommand.AddCommand(versionCommand)
}

func main() {
	if err := cliCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
