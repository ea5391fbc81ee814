package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/crypto"
	"github.com/dkeye/nyx/internal/domain"
	"github.com/dkeye/nyx/internal/session"
)

// console prints session events. Received files are written to dir and
// removed when their view window ends.
type console struct {
	out     io.Writer
	dir     string
	lastSAS string
}

func newConsole(out io.Writer, dir string) *console {
	return &console{out: out, dir: dir}
}

func (c *console) OnStatus(st session.Status) {
	prefix := "*"
	if st.Kind != domain.KindUnknown {
		prefix = "!"
	}
	fmt.Fprintf(c.out, "%s %s\n", prefix, st.Message)
	if st.SAS != "" && st.SAS != c.lastSAS {
		c.lastSAS = st.SAS
		fmt.Fprintf(c.out, "* security code: %s\n  compare it with your peer, then /verify yes or /verify no\n", st.SAS)
	}
	if st.SAS == "" {
		c.lastSAS = ""
	}
}

func (c *console) OnText(text string) {
	fmt.Fprintf(c.out, "peer> %s\n", text)
}

func (c *console) OnFile(f session.ReceivedFile) {
	defer crypto.Wipe(f.Data)
	path := filepath.Join(c.dir, "nyx-"+filepath.Base(f.Meta.Name))
	if err := os.WriteFile(path, f.Data, 0o600); err != nil {
		fmt.Fprintf(c.out, "! could not store %s: %v\n", f.Meta.Name, err)
		return
	}
	view := time.Duration(f.Meta.ViewDuration) * time.Second
	fmt.Fprintf(c.out, "* received %s (%s, %d bytes) at %s, removed in %s\n", f.Meta.Name, f.Meta.MimeType, f.Meta.Size, path, view)
	time.AfterFunc(view, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("module", "nyx").Str("path", path).Msg("remove expired file")
			return
		}
		fmt.Fprintf(c.out, "* %s expired\n", f.Meta.Name)
	})
}
