package importer

import (
	"context"
	"fmt"
	"io"

	"github.com/rbaliyan/docxfer/store"
	"github.com/rbaliyan/docxfer/stream"
)

// Command is one document to write: where, what, how big, and the multipart
// boundary when it carries attachments.
type Command interface {
	Target() store.Database
	ID() string
	// Body opens the document body. Live commands can be opened once;
	// buffered commands any number of times until released.
	Body() (io.ReadCloser, error)
	Size() int64
	Boundary() string
}

// LiveCommand reads its body straight from the inbound archive stream.
// It must be applied or buffered, and then released, before the next
// document is read from that stream.
type LiveCommand struct {
	target   store.Database
	id       string
	body     *stream.Borrowed
	size     int64
	boundary string
}

var _ Command = (*LiveCommand)(nil)

// NewCommand returns a live command borrowing body.
func NewCommand(target store.Database, id string, body io.Reader, size int64, boundary string) *LiveCommand {
	return &LiveCommand{
		target:   target,
		id:       id,
		body:     stream.Borrow(body),
		size:     size,
		boundary: boundary,
	}
}

func (c *LiveCommand) Target() store.Database { return c.target }
func (c *LiveCommand) ID() string             { return c.id }
func (c *LiveCommand) Size() int64            { return c.size }
func (c *LiveCommand) Boundary() string       { return c.boundary }

func (c *LiveCommand) Body() (io.ReadCloser, error) {
	if c.body.Drained() {
		return nil, stream.ErrReleased
	}
	return c.body, nil
}

// Release skips whatever the write left unread and returns the parent
// stream to the caller.
func (c *LiveCommand) Release() (int64, error) {
	return c.body.Release()
}

// BufferedCommand owns a spooled copy of its body, independent of the
// inbound stream.
type BufferedCommand struct {
	target   store.Database
	id       string
	payload  stream.Payload
	size     int64
	boundary string
}

var _ Command = (*BufferedCommand)(nil)

// Buffer copies cmd's body into a payload from spooler. The declared size is
// kept as the command size, whatever the number of bytes actually read.
func Buffer(cmd Command, spooler stream.Spooler) (*BufferedCommand, error) {
	body, err := cmd.Body()
	if err != nil {
		return nil, fmt.Errorf("buffer %s: %w", cmd.ID(), err)
	}
	defer body.Close()

	payload, err := spooler.Spool(body, cmd.Size())
	if err != nil {
		return nil, fmt.Errorf("buffer %s: %w", cmd.ID(), err)
	}
	return &BufferedCommand{
		target:   cmd.Target(),
		id:       cmd.ID(),
		payload:  payload,
		size:     cmd.Size(),
		boundary: cmd.Boundary(),
	}, nil
}

func (c *BufferedCommand) Target() store.Database { return c.target }
func (c *BufferedCommand) ID() string             { return c.id }
func (c *BufferedCommand) Size() int64            { return c.size }
func (c *BufferedCommand) Boundary() string       { return c.boundary }

func (c *BufferedCommand) Body() (io.ReadCloser, error) {
	return c.payload.Open()
}

// Release frees the spooled body.
func (c *BufferedCommand) Release() error {
	return c.payload.Release()
}

// apply writes cmd on its own, keeping the revision it carries.
func apply(ctx context.Context, cmd Command) error {
	body, err := cmd.Body()
	if err != nil {
		return fmt.Errorf("write %s: %w", cmd.ID(), err)
	}
	defer body.Close()

	opts := store.WriteOptions{NoNewRevisions: true}
	if boundary := cmd.Boundary(); boundary != "" {
		return cmd.Target().WriteMultipart(ctx, cmd.ID(), body, boundary, cmd.Size(), opts)
	}
	return cmd.Target().Write(ctx, cmd.ID(), body, cmd.Size(), opts)
}
