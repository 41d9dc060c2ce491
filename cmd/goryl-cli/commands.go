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
	"os"

	"github.com/spf13/cobra"
	"github.com/zaillisy/goryl/base/log"
	"github.com/zaillisy/goryl/client"
	"go.uber.org/zap"
)

func init() {
	recommendCommand.Flags().String("category", "", "restrict recommendations to a category")
	recommendCommand.Flags().IntP("limit", "n", 0, "number of items")
	recommendCommand.Flags().Bool("exclude-viewed", false, "exclude items the user interacted with")
	similarCommand.Flags().IntP("limit", "n", 0, "number of items")
	itemCommand.Flags().Bool("hide", false, "hide the item from retrieval")
	itemCommand.Flags().Bool("unhide", false, "make the item visible again")
	itemCommand.MarkFlagsMutuallyExclusive("hide", "unhide")
	clearCacheCommand.Flags().String("prefix", "", "clear entries with this key prefix")

	cliCommand.AddCommand(recordCommand)
	cliCommand.AddCommand(recommendCommand)
	cliCommand.AddCommand(similarCommand)
	cliCommand.AddCommand(itemCommand)
	cliCommand.AddCommand(affinityCommand)
	cliCommand.AddCommand(clearCacheCommand)
}

var recordCommand = &cobra.Command{
	Use:   "record <user-id> <item-id> <type>",
	Short: "Record an interaction",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		affected, err := newClient(cmd).InsertInteraction(ctx, client.Interaction{
			UserId: args[0],
			ItemId: args[1],
			Type:   args[2],
		})
		if err != nil {
			log.Logger().Fatal("failed to record interaction", zap.Error(err))
		}
		renderAffected(os.Stdout, affected)
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend [user-id]",
	Short: "Get recommendations for a user or anonymous visitor",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var options client.RecommendOptions
		if len(args) > 0 {
			options.UserId = args[0]
		}
		options.Category, _ = cmd.Flags().GetString("category")
		options.N, _ = cmd.Flags().GetInt("limit")
		options.ExcludeViewed, _ = cmd.Flags().GetBool("exclude-viewed")
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		items, err := newClient(cmd).GetRecommend(ctx, options)
		if err != nil {
			log.Logger().Fatal("failed to get recommendations", zap.Error(err))
		}
		renderScoredItems(os.Stdout, items)
	},
}

var similarCommand = &cobra.Command{
	Use:   "similar <item-id>",
	Short: "Get items similar to an item",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		items, err := newClient(cmd).GetSimilar(ctx, args[0], n)
		if err != nil {
			log.Logger().Fatal("failed to get similar items", zap.Error(err))
		}
		renderScoredItems(os.Stdout, items)
	},
}

var itemCommand = &cobra.Command{
	Use:   "item <item-id>",
	Short: "Show an item, optionally hiding or unhiding it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c := newClient(cmd)
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		hide, _ := cmd.Flags().GetBool("hide")
		unhide, _ := cmd.Flags().GetBool("unhide")
		if hide || unhide {
			if _, err := c.ModifyItem(ctx, args[0], client.ItemPatch{IsHidden: &hide}); err != nil {
				log.Logger().Fatal("failed to modify item", zap.Error(err))
			}
		}
		item, err := c.GetItem(ctx, args[0])
		if err != nil {
			log.Logger().Fatal("failed to get item", zap.Error(err))
		}
		renderItem(os.Stdout, item)
	},
}

var affinityCommand = &cobra.Command{
	Use:   "affinity <user-id>",
	Short: "Show the category affinity of a user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		affinity, err := newClient(cmd).GetAffinity(ctx, args[0])
		if err != nil {
			log.Logger().Fatal("failed to get affinity", zap.Error(err))
		}
		renderAffinity(os.Stdout, affinity)
	},
}

var clearCacheCommand = &cobra.Command{
	Use:   "clear-cache",
	Short: "Clear cached responses on the server",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		prefix, _ := cmd.Flags().GetString("prefix")
		ctx, cancel := withTimeout(cmd)
		defer cancel()
		affected, err := newClient(cmd).ClearCache(ctx, prefix)
		if err != nil {
			log.Logger().Fatal("failed to clear cache", zap.Error(err))
		}
		renderAffected(os.Stdout, affected)
	},
}
