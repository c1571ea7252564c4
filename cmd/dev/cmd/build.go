package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	buildOutput   = "dist/weatherlog"
	buildMain     = "./cmd/weatherlog"
	configPackage = "github.com/mklimuk/weatherlog/pkg/config"
	builderImage  = "gophertribe/gobuild:1.25-bookworm"
)

// BuildCmd builds the weatherlog binary. Foreign targets are built inside the
// builder image because the MCP2221 transport links hidapi through cgo.
func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the weatherlog binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			targetOS := cmd.Flag("os").Value.String()
			targetArch := cmd.Flag("arch").Value.String()
			version := cmd.Flag("version").Value.String()
			crossOS := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()

			if targetOS != runtime.GOOS || targetArch != runtime.GOARCH {
				noCache, err := cmd.Flags().GetBool("no-cache")
				if err != nil {
					return fmt.Errorf("could not get no-cache flag: %w", err)
				}
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", targetOS, targetArch),
					[]string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch},
					build.DockerBuildOpts{NoCache: noCache, Image: builderImage})
			}
			if crossOS != "" && crossArch != "" {
				targetOS, targetArch = crossOS, crossArch
			}
			return build.GoBuild(buildOutput, buildMain, build.GoBuildOpts{
				Version:       version,
				InjectVersion: true,
				ConfigPackage: configPackage,
				EnableCgo:     true,
				Arch:          targetArch,
				OS:            targetOS,
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().String("version", "latest", "version of the cli")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for (raspberry pi: linux/arm)")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")
	return cmd
}
