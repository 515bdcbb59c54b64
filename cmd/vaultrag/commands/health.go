package commands

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jholhewres/vaultrag/pkg/vaultrag/auth"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/database"
	"github.com/jholhewres/vaultrag/pkg/vaultrag/tenant"
)

type healthReport struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	DataDir   string                 `json:"data_dir"`
	AuthStore database.HealthStatus  `json:"auth_store"`
	UserStore *database.HealthStatus `json:"user_store,omitempty"`
	Embedder  embedderHealth         `json:"embedder"`
}

type embedderHealth struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Ready    bool   `json:"ready"`
	Error    string `json:"error,omitempty"`
}

// newHealthCmd creates the `vaultrag health` command. It needs no password:
// it only checks that the databases open and the embedder loads.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check databases and the embedding model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			report := healthReport{
				Status:  "ok",
				Version: cmd.Root().Version,
				DataDir: a.cfg.DataDir,
			}

			report.AuthStore = database.Status(ctx, database.SQLiteConfig{
				Path: filepath.Join(a.router.Base(), tenant.AuthFile),
			})

			user, _ := cmd.Flags().GetString("user")
			if user == "" {
				user = os.Getenv(envUser)
			}
			if user = auth.NormalizeUsername(user); user != "" && tenant.ValidateUsername(user) == nil {
				st := database.Status(ctx, database.SQLiteConfig{
					Path: filepath.Join(a.router.Dir(user), tenant.StoreFile),
				})
				report.UserStore = &st
				if !st.Healthy {
					report.Status = "degraded"
				}
			}

			report.Embedder.Provider = a.cfg.Embedding.Provider
			if e, err := a.embedder.Get(ctx); err != nil {
				report.Embedder.Error = err.Error()
				report.Status = "degraded"
			} else {
				report.Embedder.Ready = true
				report.Embedder.Model = e.Model()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
