package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rentfeatures/config"
	"rentfeatures/internal/api"
	"rentfeatures/internal/database"
	"rentfeatures/internal/geometry"
	"rentfeatures/internal/reconcile"
	"rentfeatures/internal/runner"
	"rentfeatures/internal/table"
)

var (
	logger = newLogger()
	cfg    *config.Config
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	return l
}

func main() {
	var envFile string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "rentfeatures",
		Short: "Rental listing feature pipeline",
		Long:  `Cleans scraped rental listings and derives geospatial features for rent modelling`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			var err error
			cfg, err = config.LoadConfig(files...)
			return err
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load instead of .env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createMappingCmd())
	rootCmd.AddCommand(createAdjacencyCmd())
	rootCmd.AddCommand(createServeCmd())

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

// createRunCmd creates the feature pipeline command
func createRunCmd() *cobra.Command {
	var in runner.Inputs
	var runID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the training feature table",
		Long:  `Parse, reconcile, impute and enrich the live and historical listings, then combine, sample and write them`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				runID = uuid.NewString()
			}

			features, err := config.LoadFeatures(cfg.Storage.FeaturesPath)
			if err != nil {
				return err
			}
			mapping, err := loadMapping()
			if err != nil {
				return err
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.WithField("run_id", runID).Info("Starting pipeline run")
			summary, err := runner.NewRunner(cfg, features, mapping, store, logger).Run(ctx, runID, in)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d live, %d historical, %d sampled, %d written to %s\n",
				summary.RunID, summary.Live, summary.Historical, summary.Sampled, summary.Written, in.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Live, "live", "", "live listings CSV")
	cmd.Flags().StringVar(&in.Historical, "historical", "", "historical listings CSV")
	cmd.Flags().StringVar(&in.Schools, "schools", "", "school locations CSV")
	cmd.Flags().StringVar(&in.Ranks, "ranks", "", "school ranking CSV")
	cmd.Flags().StringVar(&in.Amenities, "amenities", "", "amenity points CSV")
	cmd.Flags().StringVar(&in.Matrix, "matrix", "", "suburb adjacency matrix CSV")
	cmd.Flags().StringVar(&in.Output, "output", "", "training table CSV to write")
	cmd.Flags().StringVar(&in.StageDir, "stage-dir", "", "directory for the table at every stage boundary")
	cmd.Flags().StringVar(&runID, "run-id", "", "resume or name a run (default: new id)")
	cmd.MarkFlagRequired("live")
	cmd.MarkFlagRequired("output")
	return cmd
}

// createMappingCmd creates the suburb mapping commands
func createMappingCmd() *cobra.Command {
	mappingCmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage the suburb mapping",
	}
	mappingCmd.AddCommand(createMappingBuildCmd())
	return mappingCmd
}

func createMappingBuildCmd() *cobra.Command {
	var listingsPath, suburbsPath, output string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Derive composite suburbs and store the suburb mapping",
		Long:  `Key every scraped suburb missing from the locality dataset as a composite of its hyphen-separated parts and merge the composites into the suburb mapping used by run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, _, err := table.ReadListingsFile(listingsPath, logger)
			if err != nil {
				return err
			}
			scraped := make([]string, 0, len(rows))
			for _, l := range rows {
				scraped = append(scraped, l.Suburb)
			}

			suburbs, err := geometry.NewSuburbLoader(logger).Load(suburbsPath, cfg.Geo.SuburbNameField)
			if err != nil {
				return err
			}
			localities := make([]string, len(suburbs))
			for i, s := range suburbs {
				localities[i] = s.Name
			}

			composites := reconcile.BuildComposites(scraped, localities)
			if err := config.SaveComposites(output, composites); err != nil {
				return err
			}

			db, err := openMappingDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.SaveComposites(composites); err != nil {
				return fmt.Errorf("failed to store composites: %w", err)
			}

			existing, err := config.LoadSuburbDictionary(cfg.Storage.MappingPath)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				if existing, err = db.LoadSuburbMapping(); err != nil {
					return fmt.Errorf("failed to load suburb mapping: %w", err)
				}
			case err != nil:
				return err
			}

			mapping, conflicts := reconcile.BuildMapping(existing, composites)
			for _, c := range conflicts {
				logger.WithError(c).Warn("Suburb variant kept by its first canonical name")
			}
			if err := config.SaveSuburbMapping(cfg.Storage.MappingPath, mapping); err != nil {
				return err
			}
			if err := db.SaveSuburbMapping(mapping.Dictionary()); err != nil {
				return fmt.Errorf("failed to store suburb mapping: %w", err)
			}

			logger.WithFields(logrus.Fields{
				"scraped":    len(scraped),
				"localities": len(localities),
				"composites": len(composites),
				"variants":   mapping.Len(),
				"conflicts":  len(conflicts),
				"output":     output,
				"mapping":    cfg.Storage.MappingPath,
			}).Info("Built suburb mapping")
			return nil
		},
	}

	cmd.Flags().StringVar(&listingsPath, "listings", "", "scraped listings CSV")
	cmd.Flags().StringVar(&suburbsPath, "suburbs", "", "suburb polygons (.shp or .geojson)")
	cmd.Flags().StringVar(&output, "output", "config/suburb_composites.json", "composite suburbs JSON")
	cmd.MarkFlagRequired("listings")
	cmd.MarkFlagRequired("suburbs")
	return cmd
}

// createAdjacencyCmd creates the adjacency matrix command
func createAdjacencyCmd() *cobra.Command {
	var suburbsPath, listingsPath, compositesPath, output, centroids string

	cmd := &cobra.Command{
		Use:   "adjacency",
		Short: "Build the row-normalised suburb adjacency matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := geometry.NewSuburbLoader(logger)
			suburbs, err := loader.Load(suburbsPath, cfg.Geo.SuburbNameField)
			if err != nil {
				return err
			}

			opts := geometry.AdjacencyOptions{
				K:        cfg.Geo.NeighbourK,
				Strength: cfg.Geo.Strength,
				Epsilon:  cfg.Geo.DistanceEpsilon,
			}
			base, err := geometry.BuildAdjacency(suburbs, opts, logger)
			if err != nil {
				return err
			}

			matrix := base
			if listingsPath != "" {
				names, err := listingSuburbs(listingsPath)
				if err != nil {
					return err
				}
				composites := map[string][]string{}
				if compositesPath != "" {
					if composites, err = config.LoadComposites(compositesPath); err != nil {
						return err
					}
				}
				matrix = base.Aggregate(names, composites)
			}

			if err := table.WriteMatrix(output, matrix.RowNormalize()); err != nil {
				return err
			}
			if centroids != "" {
				if err := loader.SaveCentroids(centroids, suburbs, base); err != nil {
					return err
				}
			}
			logger.WithFields(logrus.Fields{
				"suburbs": matrix.Len(),
				"output":  output,
			}).Info("Saved adjacency matrix")
			return nil
		},
	}

	cmd.Flags().StringVar(&suburbsPath, "suburbs", "", "suburb polygons (.shp or .geojson)")
	cmd.Flags().StringVar(&listingsPath, "listings", "", "listings CSV whose suburbs index the matrix")
	cmd.Flags().StringVar(&compositesPath, "composites", "", "composite suburbs JSON")
	cmd.Flags().StringVar(&output, "output", "data/adjacency.csv", "matrix CSV")
	cmd.Flags().StringVar(&centroids, "centroids", "", "GeoJSON file for suburb centroids")
	cmd.MarkFlagRequired("suburbs")
	return cmd
}

// createServeCmd creates the feature API command
func createServeCmd() *cobra.Command {
	var matrixPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve checkpointed runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			db, err := openMappingDB()
			if err != nil {
				return err
			}
			dict, err := db.LoadSuburbMapping()
			db.Close()
			if err != nil {
				return fmt.Errorf("failed to load suburb mapping: %w", err)
			}
			mapping, err := reconcile.NewMapping(dict)
			if err != nil {
				return err
			}

			var matrix *geometry.Matrix
			if matrixPath != "" {
				if matrix, err = table.ReadMatrix(matrixPath); err != nil {
					return err
				}
			}

			gin.SetMode(gin.ReleaseMode)
			router := api.NewRouter(api.NewHandler(store, mapping, matrix, logger), logger)
			server := &http.Server{
				Addr:    ":" + cfg.Server.Port,
				Handler: router,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Error("Server shutdown failed")
				}
			}()

			logger.Infof("Starting server on port %s", cfg.Server.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&matrixPath, "matrix", "", "suburb adjacency matrix CSV")
	return cmd
}

func openStore() (*database.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.CheckpointPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := database.NewStore(cfg.Storage.CheckpointPath, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func openMappingDB() (*database.Database, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.MappingDBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := database.NewDatabase(cfg.Storage.MappingDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run mapping migrations: %w", err)
	}
	return db, nil
}

// loadMapping prefers the mapping file and falls back to the mapping database.
func loadMapping() (*reconcile.Mapping, error) {
	mapping, err := config.LoadSuburbMapping(cfg.Storage.MappingPath)
	if err == nil {
		return mapping, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	db, err := openMappingDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	dict, err := db.LoadSuburbMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to load suburb mapping: %w", err)
	}
	if len(dict) == 0 {
		logger.Warn("No suburb mapping found, suburbs are only lowercased")
	}
	return reconcile.NewMapping(dict)
}

// listingSuburbs returns the distinct canonical suburbs of a listings table.
func listingSuburbs(path string) ([]string, error) {
	rows, _, err := table.ReadListingsFile(path, logger)
	if err != nil {
		return nil, err
	}
	mapping, err := loadMapping()
	if err != nil {
		return nil, err
	}
	return reconcile.CanonicalSuburbs(rows, mapping), nil
}
