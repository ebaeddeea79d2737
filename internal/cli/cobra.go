package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"astrokeep/internal/config"
	"astrokeep/internal/logging"
	"astrokeep/internal/meta"
	"astrokeep/internal/scan"
	"astrokeep/internal/scheduler"
	"astrokeep/internal/server"
	"astrokeep/internal/storage"
	"astrokeep/internal/watch"
	"astrokeep/internal/workflow"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := NewRoot(cfg, log)

	var debug bool
	rootCmd := &cobra.Command{
		Use:   "astrokeep",
		Short: "Astrokeep files, culls and tracks astrophotography frames",
		Long: `Astrokeep organizes captured frames into a staged imaging library,
matches calibration masters to light frames, culls bad subs, and keeps the
acquisition and scheduler databases in sync with what is on disk.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !debug {
				return nil
			}
			cfg.Logging.Level = "debug"
			log, err := logging.Setup(cfg)
			if err != nil {
				return err
			}
			root.log = log
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newPrepareCmd(root))
	rootCmd.AddCommand(newDeleteCalibrationCmd(root))
	rootCmd.AddCommand(newCullCmd(root))
	rootCmd.AddCommand(newCalibrateCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newDBCmd(root))
	rootCmd.AddCommand(newSchedulerCmd(root))
	rootCmd.AddCommand(newReportCmd(root))
	rootCmd.AddCommand(newStatusCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newPrepareCmd(root *Root) *cobra.Command {
	var (
		inputDir  string
		pattern   string
		biasDir   string
		darkDir   string
		flatDir   string
		lightDir  string
		dryRun    bool
		frameType string
	)

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "File freshly captured frames into the staged library",
		Long: `Move frames from the capture drop directory into the library layout.
Calibration frames stay under the raw root; light frames are filed into the
blink stage of the data root with accept directories created alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &workflow.Prepare{
				InputDir:       inputDir,
				InputPattern:   pattern,
				OutputDirBias:  biasDir,
				OutputDirDark:  darkDir,
				OutputDirFlat:  flatDir,
				OutputDirLight: lightDir,
				DryRun:         dryRun,
			}

			steps := map[string]func() error{
				"BIAS":  p.Bias,
				"DARK":  p.Dark,
				"FLAT":  p.Flat,
				"LIGHT": p.Light,
			}
			if frameType != "" {
				step, ok := steps[frameType]
				if !ok {
					return fmt.Errorf("unknown frame type: %s", frameType)
				}
				return step()
			}
			for _, t := range []string{"BIAS", "DARK", "FLAT", "LIGHT"} {
				if err := steps[t](); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input", root.cfg.Paths.RawRoot, "directory to search for frames")
	cmd.Flags().StringVar(&pattern, "pattern", "", "frame filename pattern (default *.fits)")
	cmd.Flags().StringVar(&biasDir, "output-bias", root.cfg.Paths.RawRoot, "output directory for bias frames")
	cmd.Flags().StringVar(&darkDir, "output-dark", root.cfg.Paths.RawRoot, "output directory for dark frames")
	cmd.Flags().StringVar(&flatDir, "output-flat", root.cfg.Paths.RawRoot, "output directory for flat frames")
	cmd.Flags().StringVar(&lightDir, "output-light", root.cfg.Paths.DataRoot, "output directory for light frames")
	cmd.Flags().StringVar(&frameType, "type", "", "only file one frame type (BIAS|DARK|FLAT|LIGHT)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would happen without touching files")

	return cmd
}

func newDeleteCalibrationCmd(root *Root) *cobra.Command {
	var (
		inputDir       string
		calibrationDir string
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "delete-calibration",
		Short: "Delete raw calibration frames whose masters are stacked",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := &workflow.Delete{
				InputDir:     inputDir,
				InputPattern: "*.{fits,xisf}",
				DryRun:       dryRun,
			}
			for _, step := range []func() error{d.Bias, d.Dark, d.Flat} {
				if err := step(); err != nil {
					return err
				}
			}

			// the stacking scratch dir is recreated empty
			if !dryRun {
				if err := os.RemoveAll(calibrationDir); err != nil {
					return err
				}
				if err := os.MkdirAll(calibrationDir, 0o755); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input", root.cfg.Paths.RawRoot, "directory to search for calibration frames")
	cmd.Flags().StringVar(&calibrationDir, "calibration-dir", root.cfg.Paths.CalibrationDir, "stacking scratch directory to clear")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would happen without touching files")

	return cmd
}

func newCullCmd(root *Root) *cobra.Command {
	var (
		srcDir         string
		rejectDir      string
		maxHFR         float64
		maxRMS         float64
		autoYesPercent float64
		yes            bool
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "cull <directory>",
		Short: "Reject light frames with bad focus or guiding",
		Long: `Inspect light frames per capture directory and move the ones whose HFR
or guiding RMS exceed the limits into a parallel reject tree. Small batches
are rejected automatically; larger ones ask for confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcDir = args[0]
			if rejectDir == "" {
				rejectDir = filepath.Join(srcDir, "_rejected")
			}

			c := &workflow.Cull{
				SrcDir:         srcDir,
				RejectDir:      rejectDir,
				MaxHFR:         maxHFR,
				MaxRMS:         maxRMS,
				AutoYesPercent: autoYesPercent,
				Confirm:        confirm,
				DryRun:         dryRun,
			}
			if yes {
				c.Confirm = func(string) bool { return true }
			}

			stats, err := c.Run()
			if err != nil {
				return err
			}
			fmt.Printf("rejected %d of %d frames\n", stats.Rejected, stats.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&rejectDir, "reject-dir", "", "reject tree root (default <directory>/_rejected)")
	cmd.Flags().Float64Var(&maxHFR, "max-hfr", root.cfg.Cull.MaxHFR, "maximum half flux radius")
	cmd.Flags().Float64Var(&maxRMS, "max-rms", root.cfg.Cull.MaxRMSArcsec, "maximum guiding RMS in arcsec")
	cmd.Flags().Float64Var(&autoYesPercent, "auto-yes-percent", root.cfg.Cull.AutoYesPercent, "reject without asking below this batch percentage")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "answer yes to every confirmation")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would happen without touching files")

	return cmd
}

func newCalibrateCmd(root *Root) *cobra.Command {
	var (
		lightsDir      string
		calibrationDir string
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Manage calibration masters and match them to lights",
	}
	cmd.PersistentFlags().StringVar(&calibrationDir, "calibration-dir", root.cfg.Paths.CalibrationDir, "directory holding stacked masters")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log what would happen without touching files")

	newCalibrator := func() *workflow.Calibrator {
		return &workflow.Calibrator{
			LightsDir:      lightsDir,
			CalibrationDir: calibrationDir,
			BiasLibraryDir: root.cfg.Paths.BiasLibrary,
			DarkLibraryDir: root.cfg.Paths.DarkLibrary,
			FlatLibraryDir: root.cfg.Paths.FlatLibrary,
			DryRun:         dryRun,
		}
	}

	libraryCmd := &cobra.Command{
		Use:   "to-library",
		Short: "File stacked masters into the calibration libraries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newCalibrator()
			for _, plan := range []func() (workflow.CopyList, error){
				c.CopyListCalibrationToBiasLibrary,
				c.CopyListCalibrationToDarkLibrary,
				c.CopyListCalibrationToFlatLibrary,
			} {
				list, err := plan()
				if err != nil {
					return err
				}
				if err := c.CopyFiles(list); err != nil {
					return err
				}
			}
			return nil
		},
	}

	lightsCmd := &cobra.Command{
		Use:   "to-lights <lights_directory>",
		Short: "Copy matching masters next to the light frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lightsDir = args[0]
			c := newCalibrator()

			var allMissing []meta.Attrs
			for _, plan := range []func([]string) (workflow.CopyList, []meta.Attrs, error){
				c.CopyListDarksToLights,
				c.CopyListFlatsToLights,
			} {
				list, missing, err := plan(nil)
				if err != nil {
					return err
				}
				if err := c.CopyFiles(list); err != nil {
					return err
				}
				allMissing = append(allMissing, missing...)
			}

			if len(allMissing) > 0 {
				fmt.Println("missing calibration masters:")
				fmt.Print(workflow.ToCSV(allMissing, true))
			}
			return nil
		},
	}

	cmd.AddCommand(libraryCmd, lightsCmd)
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var (
		pattern   string
		recursive bool
		csvOut    string
	)

	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "List frame metadata from a directory tree as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := scan.Load(scan.Options{
				Dirs:            []string{args[0]},
				Patterns:        patternList(pattern),
				Recursive:       recursive,
				ProfileFromPath: true,
			})
			if err != nil {
				return err
			}

			filenames := make([]string, 0, len(result.Data))
			for filename := range result.Data {
				filenames = append(filenames, filename)
			}
			sort.Strings(filenames)

			rows := make([]meta.Attrs, 0, len(filenames))
			for _, filename := range filenames {
				rows = append(rows, result.Data[filename])
			}

			csv := workflow.ToCSV(rows, true)
			if csvOut == "" {
				fmt.Print(csv)
				return nil
			}
			return os.WriteFile(csvOut, []byte(csv), 0o644)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "frame filename pattern (default *.fits)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "recurse into subdirectories")
	cmd.Flags().StringVarP(&csvOut, "output", "o", "", "write CSV to a file instead of stdout")

	return cmd
}

func newDBCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the acquisition tracking database",
	}

	var (
		fromDir    string
		modeCreate bool
		modeDelete bool
		modeUpdate bool
		dryRun     bool
	)
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Reconcile accepted counts against frames on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.UpdateFromDirectory(fromDir, storage.UpdateModes{
				Delete: modeDelete,
				Create: modeCreate,
				Update: modeUpdate,
			}, dryRun)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d rows, %d accepted of %d frames\n", counts.Deleted, counts.Accepted, counts.Total)
			return nil
		},
	}
	updateCmd.Flags().StringVar(&fromDir, "dir", root.cfg.Paths.DataRoot, "directory tree to reconcile against")
	updateCmd.Flags().BoolVar(&modeCreate, "create", false, "only add directories unknown to the database")
	updateCmd.Flags().BoolVar(&modeDelete, "delete", false, "remove rows whose directory no longer exists")
	updateCmd.Flags().BoolVar(&modeUpdate, "update", true, "add and refresh every accepted directory")
	updateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log what would happen without writing")

	var profileDir string
	profilesCmd := &cobra.Command{
		Use:   "import-profiles",
		Short: "Import capture rig profiles into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			imported, err := store.ImportProfiles(profileDir)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d profiles\n", imported)
			return nil
		},
	}
	profilesCmd.Flags().StringVar(&profileDir, "profile-dir", "", "directory holding .profile files")
	profilesCmd.MarkFlagRequired("profile-dir")

	cmd.AddCommand(updateCmd, profilesCmd)
	return cmd
}

func newSchedulerCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Sync the capture scheduler database with the archive",
	}

	var (
		dryRun bool
		backup string
	)
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log what would happen without writing")
	cmd.PersistentFlags().StringVar(&backup, "backup", "", "back the scheduler database up to this file after writing")

	withScheduler := func(fn func(*scheduler.DB) error) error {
		sched, err := root.openScheduler()
		if err != nil {
			return err
		}
		defer sched.Close()

		if err := fn(sched); err != nil {
			return err
		}
		if backup != "" && !dryRun {
			return sched.Backup(backup)
		}
		return nil
	}

	updateCmd := &cobra.Command{
		Use:   "update-accepted",
		Short: "Push accepted frame counts into the exposure plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(func(sched *scheduler.DB) error {
				store, err := root.openStore()
				if err != nil {
					return err
				}
				defer store.Close()

				updated, err := sched.UpdateAccepted(store, dryRun)
				if err != nil {
					return err
				}
				fmt.Printf("updated %d exposure plans\n", updated)
				return nil
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset-accepted",
		Short: "Mark every acquired frame as accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(func(sched *scheduler.DB) error {
				if dryRun {
					root.log.Info("would reset accepted counts to acquired")
					return nil
				}
				return sched.ResetAcceptedToAcquired()
			})
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable-unused",
		Short: "Set projects without exposure plans back to draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(func(sched *scheduler.DB) error {
				disabled, err := sched.DisableUnusedProjects(dryRun)
				if err != nil {
					return err
				}
				fmt.Printf("disabled %d projects\n", disabled)
				return nil
			})
		},
	}

	cmd.AddCommand(updateCmd, resetCmd, disableCmd)
	return cmd
}

func newReportCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show accepted counts per stage and data ready to stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, stage := range []string{config.DirBlink, config.DirData, config.DirMaster, config.DirDone} {
				byDir, err := store.AcceptedByDirectory(stage)
				if err != nil {
					return err
				}
				dirs := make([]string, 0, len(byDir))
				for dir := range byDir {
					dirs = append(dirs, dir)
				}
				sort.Strings(dirs)

				fmt.Printf("%s:\n", stage)
				for _, dir := range dirs {
					fmt.Printf("  %6d  %s\n", byDir[dir], dir)
				}
			}

			sched, err := root.openScheduler()
			if err != nil {
				root.log.Warn("scheduler database unavailable, skipping readiness", "error", err)
				return nil
			}
			defer sched.Close()

			ready, err := sched.ReadyForMaster(store)
			if err != nil {
				return err
			}
			fmt.Println("ready for master:")
			for _, dir := range ready {
				fmt.Printf("  %s\n", dir)
			}
			return nil
		},
	}
	return cmd
}

func newStatusCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show accepted frame totals per pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, stage := range []string{
				config.DirBlink, config.DirData, config.DirMaster,
				config.DirProcess, config.DirBake, config.DirDone,
			} {
				byDir, err := store.AcceptedByDirectory(stage)
				if err != nil {
					return err
				}
				total := 0
				for _, count := range byDir {
					total += count
				}
				fmt.Printf("%-12s %5d accepted in %d directories\n", stage, total, len(byDir))
			}
			return nil
		},
	}
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		port       int
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline status server",
		Long: `Serve acceptance counts and stacking readiness over HTTP, with an
optional websocket stream of frames landing in watched directories.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			sched, err := root.openScheduler()
			if err != nil {
				root.log.Warn("scheduler database unavailable, readiness disabled", "error", err)
				sched = nil
			} else {
				defer sched.Close()
			}

			var watcher *watch.Watcher
			if len(watchPaths) > 0 {
				watcher, err = watch.New(watchPaths)
				if err != nil {
					return err
				}
				if err := watcher.Start(); err != nil {
					return err
				}
				defer watcher.Stop()
			}

			s := server.New(port, store, sched, watcher)
			s.Missing = func() ([]meta.Attrs, error) {
				c := &workflow.Calibrator{
					LightsDir:      root.cfg.Paths.DataRoot,
					CalibrationDir: root.cfg.Paths.CalibrationDir,
					BiasLibraryDir: root.cfg.Paths.BiasLibrary,
					DarkLibraryDir: root.cfg.Paths.DarkLibrary,
					FlatLibraryDir: root.cfg.Paths.FlatLibrary,
					DryRun:         true,
				}
				_, missingDarks, err := c.CopyListDarksToLights(nil)
				if err != nil {
					return nil, err
				}
				_, missingFlats, err := c.CopyListFlatsToLights(nil)
				if err != nil {
					return nil, err
				}
				return append(missingDarks, missingFlats...), nil
			}
			return s.Start(context.Background())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "server port")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for new frames")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := root.cfg.Paths
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Raw root:         %s\n", p.RawRoot)
			fmt.Printf("Data root:        %s\n", p.DataRoot)
			fmt.Printf("Calibration dir:  %s\n", p.CalibrationDir)
			fmt.Printf("Bias library:     %s\n", p.BiasLibrary)
			fmt.Printf("Dark library:     %s\n", p.DarkLibrary)
			fmt.Printf("Flat library:     %s\n", p.FlatLibrary)
			fmt.Printf("Database:         %s\n", p.DatabasePath)
			fmt.Printf("Scheduler DB:     %s\n", p.SchedulerPath)
			fmt.Printf("Log level:        %s\n", root.cfg.Logging.Level)
			fmt.Printf("Max HFR:          %.2f\n", root.cfg.Cull.MaxHFR)
			fmt.Printf("Max RMS (arcsec): %.2f\n", root.cfg.Cull.MaxRMSArcsec)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			for name, dir := range map[string]string{
				"raw root":  root.cfg.Paths.RawRoot,
				"data root": root.cfg.Paths.DataRoot,
			} {
				if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
					return fmt.Errorf("%s does not exist: %s", name, dir)
				}
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("astrokeep v1.0.0")
		},
	}
}

func patternList(pattern string) []string {
	if pattern == "" {
		return nil
	}
	return []string{pattern}
}
