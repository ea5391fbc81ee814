package domain

import (
	"github.com/fxamacker/cbor/v2"
)

type PayloadKind string

const (
	PayloadText      PayloadKind = "text"
	PayloadFileMeta  PayloadKind = "file_meta"
	PayloadFileChunk PayloadKind = "file_chunk"
)

// Payload is the encrypted application unit. It travels as JSON inside an
// encrypted_message envelope on the relay path and as CBOR on the direct path.
type Payload struct {
	Type       PayloadKind `json:"type" cbor:"type"`
	Ciphertext []byte      `json:"ciphertext" cbor:"ciphertext"`
	Nonce      []byte      `json:"nonce" cbor:"nonce"`
	FileID     string      `json:"fileId,omitempty" cbor:"fileId,omitempty"`
	ChunkIndex int         `json:"chunkIndex,omitempty" cbor:"chunkIndex,omitempty"`
}

// FileMetadata is sealed into the ciphertext of a file_meta payload.
type FileMetadata struct {
	FileID       string `json:"fileId"`
	TotalChunks  int    `json:"totalChunks"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	ViewDuration int    `json:"viewDuration"`
}

// wirePayload has Payload's fields but none of its methods, so the cbor
// codec does not call back into MarshalBinary/UnmarshalBinary.
type wirePayload Payload

// MarshalBinary encodes p for the direct transport.
func (p *Payload) MarshalBinary() ([]byte, error) {
	b, err := cbor.Marshal((*wirePayload)(p))
	if err != nil {
		return nil, E(KindParse, "payload.encode", err)
	}
	return b, nil
}

// UnmarshalBinary decodes a payload received on the direct transport.
func (p *Payload) UnmarshalBinary(data []byte) error {
	if err := cbor.Unmarshal(data, (*wirePayload)(p)); err != nil {
		return E(KindParse, "payload.decode", err)
	}
	return nil
}
