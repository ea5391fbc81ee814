package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/nyx/internal/crypto"
	"github.com/dkeye/nyx/internal/domain"
)

const (
	// chunks sent per loop turn before yielding to other events
	chunksPerTurn = 16
	maxChunks     = 1 << 20
)

var (
	ErrUnknownFile   = errors.New("chunk for unknown file")
	ErrChunkRange    = errors.New("chunk index out of range")
	ErrDuplicate     = errors.New("duplicate chunk")
	ErrSizeMismatch  = errors.New("reassembled size does not match metadata")
	ErrBadMetadata   = errors.New("invalid file metadata")
	ErrNegativeSize  = errors.New("negative file size")
	ErrFileAbandoned = errors.New("incomplete transfer abandoned")
)

// errDirectLost reports that a file pinned to the direct channel can no
// longer use it.
var errDirectLost = errors.New("direct channel lost mid-file")

type filePath int

const (
	pathUnset filePath = iota
	pathDirect
	pathRelay
)

// outgoingFile is pinned to one path when its metadata goes out, so the
// receiver sees the metadata before any chunk. A file moves from direct
// to relay only when the direct channel is lost, and then starts over.
type outgoingFile struct {
	meta domain.FileMetadata
	src  io.ReaderAt
	next int
	sent bool
	path filePath
	gen  uint64
}

// done releases the source of a finished or aborted file.
func (f *outgoingFile) done() {
	if c, ok := f.src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("module", "session.transfer").Str("file", f.meta.FileID).Msg("close source")
		}
	}
}

type incomingFile struct {
	meta   domain.FileMetadata
	chunks [][]byte
	have   int
}

func (f *incomingFile) wipe() {
	for _, c := range f.chunks {
		crypto.Wipe(c)
	}
	f.chunks = nil
}

type transferEngine struct {
	outbox   Queue[*outgoingFile]
	current  *outgoingFile
	inbound  map[string]*incomingFile
	finished map[string]struct{}
}

func newTransferEngine() *transferEngine {
	return &transferEngine{
		inbound:  make(map[string]*incomingFile),
		finished: make(map[string]struct{}),
	}
}

// abandon drops all transfer state. Incomplete inbound files are wiped.
func (x *transferEngine) abandon() {
	for id, f := range x.inbound {
		log.Warn().Err(domain.E(domain.KindTransfer, "transfer.abandon", ErrFileAbandoned)).
			Str("module", "session.transfer").Str("file", id).Int("have", f.have).Int("total", f.meta.TotalChunks).Msg("transfer abandoned")
		f.wipe()
	}
	x.inbound = make(map[string]*incomingFile)
	x.finished = make(map[string]struct{})
	for _, f := range x.outbox.Drain() {
		f.done()
	}
	if x.current != nil {
		x.current.done()
		x.current = nil
	}
}

// additionalData binds a payload's ciphertext to its kind and position.
func additionalData(kind domain.PayloadKind, fileID string, index int) []byte {
	ad := []byte(kind)
	if fileID != "" {
		ad = append(ad, '|')
		ad = append(ad, fileID...)
		ad = append(ad, '|')
		ad = strconv.AppendInt(ad, int64(index), 10)
	}
	return ad
}

func seal(secret *crypto.SharedSecret, kind domain.PayloadKind, fileID string, index int, plaintext []byte) (*domain.Payload, error) {
	nonce, ct, err := secret.Seal(plaintext, additionalData(kind, fileID, index))
	if err != nil {
		return nil, domain.E(domain.KindCrypto, "transfer.seal", err)
	}
	return &domain.Payload{Type: kind, Ciphertext: ct, Nonce: nonce, FileID: fileID, ChunkIndex: index}, nil
}

func open(secret *crypto.SharedSecret, p *domain.Payload) ([]byte, error) {
	pt, err := secret.Open(p.Nonce, p.Ciphertext, additionalData(p.Type, p.FileID, p.ChunkIndex))
	if err != nil {
		return nil, domain.E(domain.KindCrypto, "transfer.open", err)
	}
	return pt, nil
}

// SendText encrypts text and sends it over the active path.
func (s *Session) SendText(text string) error {
	return s.call(func() error {
		secret, err := s.secret()
		if err != nil {
			return err
		}
		p, err := seal(secret, domain.PayloadText, "", 0, []byte(text))
		if err != nil {
			return err
		}
		return s.deliver(p)
	})
}

// SendFile queues src for transfer and returns its file id. Chunks are
// sent from the session loop, paced by the active path's buffer.
func (s *Session) SendFile(name, mimeType string, size int64, src io.ReaderAt, viewDuration int) (string, error) {
	if size < 0 {
		return "", domain.E(domain.KindTransfer, "session.sendfile", ErrNegativeSize)
	}
	var id string
	err := s.call(func() error {
		if _, err := s.secret(); err != nil {
			return err
		}
		chunk := int64(s.cfg.ChunkSize)
		id = uuid.NewString()
		s.xfer.outbox.Push(&outgoingFile{
			src: src,
			meta: domain.FileMetadata{
				FileID:       id,
				TotalChunks:  int((size + chunk - 1) / chunk),
				Name:         name,
				MimeType:     mimeType,
				Size:         size,
				ViewDuration: viewDuration,
			},
		})
		s.kick()
		return nil
	})
	return id, err
}

func (s *Session) secret() (*crypto.SharedSecret, error) {
	if s.neg.state != SecretDerived || s.neg.secret == nil {
		return nil, domain.E(domain.KindCrypto, "session.secret", ErrNoSecret)
	}
	return s.neg.secret, nil
}

func (s *Session) directOpen() bool {
	return s.ch.state == Open && s.ch.transport != nil
}

func (s *Session) sendDirect(p *domain.Payload) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return s.ch.transport.Send(b)
}

func (s *Session) sendRelay(p *domain.Payload) error {
	env, err := domain.WithPayload(s.neg.peer, s.neg.code, p)
	if err != nil {
		return err
	}
	return s.send(env)
}

// deliver sends a standalone payload directly when the channel is open
// and through the relay otherwise.
func (s *Session) deliver(p *domain.Payload) error {
	if s.directOpen() {
		err := s.sendDirect(p)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Str("module", "session.transfer").Msg("direct send failed, using relay")
	}
	return s.sendRelay(p)
}

// deliverFile sends p on the path f is pinned to.
func (s *Session) deliverFile(f *outgoingFile, p *domain.Payload) error {
	if f.path != pathDirect {
		return s.sendRelay(p)
	}
	if !s.directUsable(f) {
		return errDirectLost
	}
	if err := s.sendDirect(p); err != nil {
		log.Warn().Err(err).Str("module", "session.transfer").Str("file", f.meta.FileID).Msg("direct send failed")
		return errDirectLost
	}
	return nil
}

// directUsable reports whether the channel f was pinned to is still open.
func (s *Session) directUsable(f *outgoingFile) bool {
	return s.directOpen() && s.ch.gen == f.gen
}

// pin picks the path for a file about to send its metadata.
func (s *Session) pin(f *outgoingFile) {
	if f.path != pathUnset {
		return
	}
	f.path = pathRelay
	if s.directOpen() {
		f.path, f.gen = pathDirect, s.ch.gen
	}
}

// moveToRelay restarts f on the relay. Chunks the peer already holds are
// discarded there as duplicates.
func (s *Session) moveToRelay(f *outgoingFile) {
	log.Warn().Str("module", "session.transfer").Str("file", f.meta.FileID).Int("next", f.next).Msg("direct channel lost, resending file over relay")
	f.path = pathRelay
	f.sent = false
	f.next = 0
}

func (s *Session) buffered(f *outgoingFile) uint64 {
	if f.path == pathDirect && s.directUsable(f) {
		return s.ch.transport.BufferedAmount()
	}
	if s.link != nil {
		return s.link.BufferedAmount()
	}
	return 0
}

// pumpFiles sends queued file data until the path's buffer passes the
// low-water mark or the per-turn budget is used. A drained signal from
// the path resumes it.
func (s *Session) pumpFiles() {
	x := s.xfer
	secret, err := s.secret()
	if err != nil {
		return
	}
	for sent := 0; ; {
		if x.current == nil {
			f, ok := x.outbox.Pop()
			if !ok {
				return
			}
			x.current = f
		}
		f := x.current
		s.pin(f)
		if f.path == pathDirect && !s.directUsable(f) {
			s.moveToRelay(f)
		}
		if !f.sent {
			err := s.sendMetadata(secret, f)
			if errors.Is(err, errDirectLost) {
				s.moveToRelay(f)
				continue
			}
			if err != nil {
				s.report(fmt.Sprintf("could not send %s", f.meta.Name), err)
				f.done()
				x.current = nil
				continue
			}
			f.sent = true
		}
		if f.next >= f.meta.TotalChunks {
			log.Info().Str("module", "session.transfer").Str("file", f.meta.FileID).Int("chunks", f.meta.TotalChunks).Msg("file sent")
			s.report(fmt.Sprintf("sent %s", f.meta.Name), nil)
			f.done()
			x.current = nil
			continue
		}
		if s.buffered(f) > s.cfg.BufferLowWater {
			return
		}
		if sent >= chunksPerTurn {
			s.kick()
			return
		}
		err := s.sendChunk(secret, f)
		if errors.Is(err, errDirectLost) {
			s.moveToRelay(f)
			continue
		}
		if err != nil {
			s.report(fmt.Sprintf("transfer of %s aborted", f.meta.Name), err)
			f.done()
			x.current = nil
			continue
		}
		f.next++
		sent++
	}
}

func (s *Session) sendMetadata(secret *crypto.SharedSecret, f *outgoingFile) error {
	raw, err := json.Marshal(f.meta)
	if err != nil {
		return domain.E(domain.KindTransfer, "transfer.meta", err)
	}
	p, err := seal(secret, domain.PayloadFileMeta, f.meta.FileID, 0, raw)
	if err != nil {
		return err
	}
	return s.deliverFile(f, p)
}

func (s *Session) sendChunk(secret *crypto.SharedSecret, f *outgoingFile) error {
	chunk := int64(s.cfg.ChunkSize)
	off := int64(f.next) * chunk
	n := min(chunk, f.meta.Size-off)
	buf := make([]byte, n)
	defer crypto.Wipe(buf)
	if got, err := f.src.ReadAt(buf, off); err != nil && !(errors.Is(err, io.EOF) && int64(got) == n) {
		return domain.E(domain.KindTransfer, "transfer.read", err)
	}
	p, err := seal(secret, domain.PayloadFileChunk, f.meta.FileID, f.next, buf)
	if err != nil {
		return err
	}
	return s.deliverFile(f, p)
}

// receive handles a payload from either path.
func (s *Session) receive(p *domain.Payload) {
	secret, err := s.secret()
	if err != nil {
		log.Warn().Err(err).Str("module", "session.transfer").Msg("payload before key exchange dropped")
		return
	}
	switch p.Type {
	case domain.PayloadText:
		pt, err := open(secret, p)
		if err != nil {
			s.report("could not decrypt message", err)
			return
		}
		s.obs.OnText(string(pt))
		crypto.Wipe(pt)
	case domain.PayloadFileMeta:
		s.onFileMeta(secret, p)
	case domain.PayloadFileChunk:
		s.onFileChunk(secret, p)
	default:
		log.Warn().Str("module", "session.transfer").Str("type", string(p.Type)).Msg("unknown payload type")
	}
}

func (s *Session) onFileMeta(secret *crypto.SharedSecret, p *domain.Payload) {
	x := s.xfer
	pt, err := open(secret, p)
	if err != nil {
		s.report("could not decrypt file metadata", err)
		return
	}
	var meta domain.FileMetadata
	err = json.Unmarshal(pt, &meta)
	crypto.Wipe(pt)
	if err != nil || meta.FileID != p.FileID || meta.TotalChunks < 0 || meta.TotalChunks > maxChunks || meta.Size < 0 {
		s.report("invalid file metadata", domain.E(domain.KindTransfer, "transfer.meta", ErrBadMetadata))
		return
	}
	if _, done := x.finished[meta.FileID]; done {
		log.Warn().Str("module", "session.transfer").Str("file", meta.FileID).Msg("metadata for finished file ignored")
		return
	}
	if _, exists := x.inbound[meta.FileID]; exists {
		log.Warn().Str("module", "session.transfer").Str("file", meta.FileID).Msg("duplicate metadata ignored")
		return
	}
	f := &incomingFile{meta: meta, chunks: make([][]byte, meta.TotalChunks)}
	x.inbound[meta.FileID] = f
	log.Info().Str("module", "session.transfer").Str("file", meta.FileID).Int("chunks", meta.TotalChunks).Int64("size", meta.Size).Msg("receiving file")
	s.report(fmt.Sprintf("receiving %s", meta.Name), nil)
	if f.have == meta.TotalChunks {
		s.completeFile(f)
	}
}

func (s *Session) onFileChunk(secret *crypto.SharedSecret, p *domain.Payload) {
	f, ok := s.xfer.inbound[p.FileID]
	if !ok {
		log.Warn().Err(domain.E(domain.KindTransfer, "transfer.chunk", ErrUnknownFile)).Str("module", "session.transfer").Str("file", p.FileID).Msg("chunk discarded")
		return
	}
	if p.ChunkIndex < 0 || p.ChunkIndex >= len(f.chunks) {
		log.Warn().Err(domain.E(domain.KindTransfer, "transfer.chunk", ErrChunkRange)).Str("module", "session.transfer").Str("file", p.FileID).Int("index", p.ChunkIndex).Msg("chunk discarded")
		return
	}
	if f.chunks[p.ChunkIndex] != nil {
		log.Warn().Err(domain.E(domain.KindTransfer, "transfer.chunk", ErrDuplicate)).Str("module", "session.transfer").Str("file", p.FileID).Int("index", p.ChunkIndex).Msg("chunk discarded")
		return
	}
	pt, err := open(secret, p)
	if err != nil {
		s.report("could not decrypt file chunk", err)
		return
	}
	if pt == nil {
		pt = []byte{}
	}
	f.chunks[p.ChunkIndex] = pt
	f.have++
	if f.have == f.meta.TotalChunks {
		s.completeFile(f)
	}
}

// completeFile reassembles f exactly once and drops its record.
func (s *Session) completeFile(f *incomingFile) {
	x := s.xfer
	delete(x.inbound, f.meta.FileID)
	x.finished[f.meta.FileID] = struct{}{}
	defer f.wipe()

	var total int64
	for _, c := range f.chunks {
		total += int64(len(c))
	}
	if total != f.meta.Size {
		s.report(fmt.Sprintf("file %s discarded", f.meta.Name),
			domain.E(domain.KindTransfer, "transfer.complete", ErrSizeMismatch))
		return
	}
	data := make([]byte, 0, total)
	for _, c := range f.chunks {
		data = append(data, c...)
	}
	log.Info().Str("module", "session.transfer").Str("file", f.meta.FileID).Msg("file reassembled")
	s.obs.OnFile(ReceivedFile{Meta: f.meta, Data: data})
}
