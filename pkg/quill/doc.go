// Package quill provides an embeddable parallel log-processing pipeline:
// read, filter, transform, and aggregate structured log lines using
// compiled scripted stages, the same engine the quill command-line tool
// drives from flags.
//
// Quick start:
//
//	q, err := quill.New(
//	    quill.WithPaths("access.log"),
//	    quill.WithFilter(`Event["status"] >= 500`),
//	    quill.WithWorkers(4),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	if err := q.Run(os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// A Quill instance is built once per run; it is not reusable across
// multiple Run calls since the underlying pipeline's channels and control
// bus are consumed by the first run.
package quill
