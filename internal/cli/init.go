package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/harun/ragent/internal/config"
	"github.com/harun/ragent/internal/render"
	"github.com/harun/ragent/pkg/backend"
	"github.com/harun/ragent/pkg/session"
	"github.com/spf13/cobra"
)

var (
	initFix bool
	initAdd bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the ragent home with default backend configs",
	Long: `Create ragent.yaml, the backend config directory and the sessions
directory, and write the default backend configs that do not exist yet.

--add walks through an interactive wizard for one more backend config.
--fix checks every backend config and moves corrupt session files aside.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFix, "fix", false, "validate backend configs and quarantine corrupt sessions")
	initCmd.Flags().BoolVar(&initAdd, "add", false, "add a backend config interactively")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader("")
	written, err := loader.Save(config.DefaultConfig(), false)
	if err != nil {
		return err
	}

	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())
	out := a.renderer(cmd)

	if written {
		out.Plain("Wrote settings to %s", loader.GetConfigPath())
	}
	if err := os.MkdirAll(a.cfg.SessionsDir, 0o700); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	descriptors := config.NewDescriptorStore(a.cfg.ConfigDir)
	created, err := descriptors.WriteDefaults()
	if err != nil {
		return err
	}
	for _, name := range created {
		out.Plain("Created backend config %s", name)
	}

	if initAdd {
		if err := addDescriptor(cmd, out, descriptors); err != nil {
			return err
		}
	}

	if initFix {
		if err := fixSessions(cmd.Context(), a, out); err != nil {
			return err
		}
		if err := fixDescriptors(out, descriptors); err != nil {
			return err
		}
	}

	a.logger.Info().Str("home", a.cfg.Home).Int("created", len(created)).Msg("Home initialized")
	out.Plain("Backend configs: %s", descriptors.Dir())
	return nil
}

func addDescriptor(cmd *cobra.Command, out *render.Renderer, descriptors *config.DescriptorStore) error {
	desc, err := config.NewWizard(cmd.InOrStdin(), cmd.ErrOrStderr()).Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}
	if err := backend.NewResolver().Validate(desc.Normalize()); err != nil {
		return err
	}

	ok, err := descriptors.WriteDescriptor(desc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: backend config %s already exists", backend.ErrConfigInvalid, desc.Name)
	}
	out.Plain("Created backend config %s", desc.Name)
	out.Plain("Try it with: ragent run \"hello\" --config %s", desc.Name)
	return nil
}

// fixDescriptors reports every backend config that cannot be used.
func fixDescriptors(out *render.Renderer, descriptors *config.DescriptorStore) error {
	files, err := descriptors.List()
	if err != nil {
		return err
	}

	resolver := backend.NewResolver()
	invalid := 0
	for _, f := range files {
		err := f.Err
		if err == nil {
			err = resolver.Validate(f.Descriptor.Normalize())
		}
		if err != nil {
			invalid++
			out.Warn(fmt.Sprintf("%s: %v", f.Path, err))
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d backend configs are invalid", backend.ErrConfigInvalid, invalid, len(files))
	}
	out.Plain("All %d backend configs are valid", len(files))
	return nil
}

// fixSessions moves corrupt session files aside. Corrupt records in other
// stores are only reported.
func fixSessions(ctx context.Context, a *app, out *render.Renderer) error {
	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.List(ctx)
	if err != nil {
		return err
	}

	files, canQuarantine := fileStore(s)
	for _, info := range infos {
		if !info.Corrupt {
			continue
		}
		if !canQuarantine {
			out.Warn(fmt.Sprintf("session %s is corrupt; remove it with 'ragent sessions delete %s'", info.Name, info.Name))
			continue
		}
		dst, err := files.Quarantine(ctx, info.Name)
		if err != nil {
			return err
		}
		a.logger.Warn().Str("session", info.Name).Str("path", dst).Msg("Corrupt session quarantined")
		out.Plain("Moved corrupt session %s to %s", info.Name, dst)
	}
	return nil
}

func fileStore(s session.Store) (*session.FileStore, bool) {
	for {
		if fs, ok := s.(*session.FileStore); ok {
			return fs, true
		}
		u, ok := s.(interface{ Unwrap() session.Store })
		if !ok {
			return nil, false
		}
		s = u.Unwrap()
	}
}
