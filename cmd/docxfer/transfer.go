package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/docxfer"
	"github.com/rbaliyan/docxfer/filter"
	"github.com/rbaliyan/docxfer/stream"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	var archiveURI, name, outputFile string

	cmd := &cobra.Command{
		Use:   "export [database...]",
		Short: "Export databases of the source store into an archive",
		Long: `Export writes a multi-database archive of the source store.

Databases are taken from the arguments, then from source.databases in the
configuration; without either every database is exported.

The archive goes to --archive (a directory, s3://bucket/prefix or
gs://bucket/prefix) and its URI is printed. With -o it is written to a file
instead, "-" meaning standard output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("archive") {
				cfg.Archive.URI = archiveURI
			}
			if cmd.Flags().Changed("name") {
				cfg.Archive.Name = name
			}
			if len(args) > 0 {
				cfg.Source.Databases = args
			}
			return a.export(cmd, outputFile)
		},
	}

	cmd.Flags().StringVarP(&archiveURI, "archive", "a", "", "archive destination: directory, s3://bucket/prefix or gs://bucket/prefix")
	cmd.Flags().StringVar(&name, "name", "", "archive object name (default docxfer-<timestamp>.zip)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the archive to this file instead, - for stdout")
	return cmd
}

func (a *app) export(cmd *cobra.Command, outputFile string) (err error) {
	ctx := cmd.Context()
	cfg := a.cfg

	var cl closers
	defer func() {
		err = errors.Join(err, cl.close(context.WithoutCancel(ctx)))
	}()

	source, err := openStore(ctx, cfg.Source, cfg.Telemetry.Enabled, a.logger, &cl)
	if err != nil {
		return err
	}
	dbs, err := databases(ctx, source, cfg.Source.Databases)
	if err != nil {
		return err
	}
	if len(dbs) == 0 {
		return docxfer.ErrNoDatabases
	}

	svc, err := a.service(ctx, &cl)
	if err != nil {
		return err
	}

	if outputFile != "" {
		w, err := output(outputFile)
		if err != nil {
			return err
		}
		if err := svc.ExportDatabases(ctx, dbs, w); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	}

	loc, err := parseLocation(cfg.Archive.URI)
	if err != nil {
		return err
	}
	archives, err := openArchiveStore(ctx, cfg.Archive, loc, false, cfg.Telemetry.Enabled, a.logger, &cl)
	if err != nil {
		return err
	}

	name := cfg.Archive.Name
	if name == "" {
		name = fmt.Sprintf("docxfer-%s.zip", time.Now().UTC().Format("20060102T150405Z"))
	}
	uri, err := svc.ExportTo(ctx, dbs, archives, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), uri)
	return nil
}

func newImportCmd(a *app) *cobra.Command {
	var (
		archiveURI   string
		batchBytes   int64
		concurrency  int
		skipExisting bool
	)

	cmd := &cobra.Command{
		Use:   "import [archive]",
		Short: "Import an archive into the target store",
		Long: `Import writes every database of a multi-database archive into the target
store, creating missing databases. The archive is a path or file://, s3://
or gs:// URI, given as argument or with --archive.

Plain JSON documents are written in bulk batches of about --batch-bytes;
0 writes each document on its own. --skip-existing leaves out revisions the
target already has, with a Redis cache in front when redis.addr is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("archive") {
				cfg.Archive.URI = archiveURI
			}
			if len(args) == 1 {
				cfg.Archive.URI = args[0]
			}
			if cmd.Flags().Changed("batch-bytes") {
				cfg.Import.BatchBytes = batchBytes
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Import.Concurrency = concurrency
			}
			if cmd.Flags().Changed("skip-existing") {
				cfg.Import.SkipExisting = skipExisting
			}
			return a.importArchive(cmd)
		},
	}

	cmd.Flags().StringVarP(&archiveURI, "archive", "a", "", "archive to import")
	cmd.Flags().Int64Var(&batchBytes, "batch-bytes", docxfer.DefaultBatchBytes, "bulk batch threshold in bytes, 0 to write documents one by one")
	cmd.Flags().IntVar(&concurrency, "concurrency", docxfer.DefaultConcurrency, "databases imported at once")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip revisions the target already has")
	return cmd
}

func (a *app) importArchive(cmd *cobra.Command) (err error) {
	ctx := cmd.Context()
	cfg := a.cfg

	var cl closers
	defer func() {
		err = errors.Join(err, cl.close(context.WithoutCancel(ctx)))
	}()

	loc, err := parseLocation(cfg.Archive.URI)
	if err != nil {
		return err
	}
	target, err := openStore(ctx, cfg.Target, cfg.Telemetry.Enabled, a.logger, &cl)
	if err != nil {
		return err
	}
	archives, err := openArchiveStore(ctx, cfg.Archive, loc, true, cfg.Telemetry.Enabled, a.logger, &cl)
	if err != nil {
		return err
	}
	svc, err := a.service(ctx, &cl)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := svc.ImportFrom(ctx, target, archives, loc.uri()); err != nil {
		if failed := docxfer.FailedDatabases(err); len(failed) > 0 {
			a.logger.Error("import incomplete", "failed", failed)
		}
		return err
	}
	a.logger.Info("import complete", "archive", loc.uri(), "duration", time.Since(start))
	return nil
}

// service builds and connects the transfer service from the configuration.
func (a *app) service(ctx context.Context, cl *closers) (docxfer.Service, error) {
	cfg := a.cfg
	opts := []docxfer.Option{
		docxfer.WithLogger(a.logger),
		docxfer.WithBatchBytes(cfg.Import.BatchBytes),
		docxfer.WithConcurrency(cfg.Import.Concurrency),
		docxfer.WithOTel(cfg.Telemetry.Enabled),
	}
	if dir := cfg.Import.SpoolDir; dir != "" {
		opts = append(opts, docxfer.WithTempDir(dir), docxfer.WithSpooler(stream.FileSpooler{Dir: dir}))
	}

	client := newRedisClient(cfg.Redis, cl)
	if cfg.Import.SkipExisting {
		if client != nil {
			opts = append(opts, docxfer.WithFilter(filter.NewRevisionCache(client, filter.WithLogger(a.logger))))
		} else {
			opts = append(opts, docxfer.WithFilter(filter.ExcludeExistingRevision()))
		}
	}
	if client != nil && cfg.Redis.Events {
		opts = append(opts, docxfer.WithRedisClient(client))
	}

	svc, err := docxfer.NewService(opts...)
	if err != nil {
		return nil, err
	}
	if err := svc.Connect(ctx); err != nil {
		return nil, err
	}
	cl.add(svc.Close)
	return svc, nil
}
