// Package docxfer moves document databases in and out of portable archives.
//
// An export reads every document of a database from a store and writes it as
// one archive entry: a short header block (id, length, content type,
// revision) followed by the document body, streamed without buffering. An
// import reads such an archive back into a store, preserving revisions.
//
// # Quick Start
//
//	svc, err := docxfer.NewService(
//		docxfer.WithLogger(logger),
//		docxfer.WithBatchBytes(1<<20),
//	)
//	if err != nil {
//		return err
//	}
//	if err := svc.Connect(ctx); err != nil {
//		return err
//	}
//	defer svc.Close(ctx)
//
//	// Export two databases into an archive store.
//	uri, err := svc.ExportTo(ctx, []store.Database{users, orders}, archives, "backup.zip")
//
//	// Import them into another store instance.
//	err = svc.ImportFrom(ctx, target, archives, uri)
//
// # Import strategies
//
// With a positive batch size (the default is 1 MiB) plain JSON documents are
// grouped into bulk writes whose combined size stays near the threshold.
// Documents with attachments are always written one by one. A batch size of
// zero writes every document as soon as it is read.
//
// Documents of one database are written in archive order. Several databases
// are imported concurrently, see WithConcurrency.
//
// # Filtering
//
// WithFilter decides per document whether it is written at all, for example
// filter.ExcludeExistingRevision to skip revisions the target already has.
//
// # Events
//
// Every service has its own event bus. Subscribe through Events():
//
//	svc.Events().DatabaseImported.Subscribe(ctx, handler)
//
// Publish failures are reported to the handler set with
// WithEventPublishFailureHandler and never fail a transfer.
package docxfer
