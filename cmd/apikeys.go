package cmd

import (
	"fmt"

	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/spf13/cobra"
)

var apiKeysCmd = &cobra.Command{
	Use:   "apikeys",
	Short: "Manage REST API consumer keys",
}

var (
	akUserID      int64
	akDescription string
	akPermission  string
	akEndpoints   []string
)

var apiKeysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a consumer key/secret pair; the secret is shown once",
	RunE: func(cmd *cobra.Command, args []string) error {
		perm, ok := model.ParsePermission(akPermission)
		if !ok {
			return fmt.Errorf("unknown permission %q", akPermission)
		}
		var endpoints model.Endpoints
		if len(akEndpoints) > 0 {
			endpoints = model.Endpoints{}
			for _, e := range akEndpoints {
				endpoints[e] = true
			}
		}

		_, mysqlDB, svcs, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer mysqlDB.Close()

		creds, err := svcs.APIKeys.Create(cmd.Context(), akUserID, akDescription, perm, endpoints)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:              %d\n", creds.ID)
		fmt.Fprintf(out, "permissions:     %s\n", creds.Permissions)
		fmt.Fprintf(out, "consumer_key:    %s\n", creds.ConsumerKey)
		fmt.Fprintf(out, "consumer_secret: %s\n", creds.ConsumerSecret)
		return nil
	},
}

func init() {
	apiKeysCreateCmd.Flags().Int64Var(&akUserID, "user", 0, "owning user id")
	apiKeysCreateCmd.Flags().StringVar(&akDescription, "description", "", "free-form description")
	apiKeysCreateCmd.Flags().StringVar(&akPermission, "permission", "read", "read, write or read_write")
	apiKeysCreateCmd.Flags().StringSliceVar(&akEndpoints, "endpoints", nil, "restrict to endpoint ids (e.g. licenses.activate)")
	_ = apiKeysCreateCmd.MarkFlagRequired("user")

	apiKeysCmd.AddCommand(apiKeysCreateCmd)
}
