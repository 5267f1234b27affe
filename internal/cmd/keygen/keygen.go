package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// Description provides detailed documentation to the main CLI command.
var Description = `Generates an Ed25519 key pair, for use with --identity and --key.

The private key is written in the libp2p protobuf encoding, base16-encoded.
The corresponding peer ID is printed to stderr.`

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:      "output",
		Aliases:   []string{"out", "o"},
		Usage:     "write key to file",
		TakesFile: true,
	},
}

// Command returns the `keygen` command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "keygen",
		Usage:       "generate a peer identity",
		Description: Description,
		Flags:       flags,
		Action:      run,
	}
}

func run(c *cli.Context) error {
	sk, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return errors.Wrap(err, "generate")
	}

	raw, err := crypto.MarshalPrivateKey(sk)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}

	id, err := peer.IDFromPrivateKey(sk)
	if err != nil {
		return err
	}

	w, err := getWriter(c)
	if err != nil {
		return err
	}
	defer w.Close()

	// writing to a file can fail unexpectedly, so handle the error.
	if _, err = fmt.Fprintln(w, hex.EncodeToString(raw)); err != nil {
		return errors.Wrap(err, "fwrite")
	}

	fmt.Fprintln(c.App.ErrWriter, id)
	return nil
}

func getWriter(c *cli.Context) (io.WriteCloser, error) {
	if c.String("output") != "" {
		path := filepath.Clean(c.String("output"))

		// Open a write-only file, failing if one already exists.  Set the SYNC flag
		// to reduce the chance of flush-errors when calling Close.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_SYNC, 0600)
		if err != nil {
			return nil, errors.Wrap(err, "fopen")
		}

		return f, nil
	}

	return nopCloser{c.App.Writer}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
