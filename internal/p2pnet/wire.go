package p2pnet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
)

// frameKind discriminates a Request from a Response on the wire; both share
// the same protocol and length-prefixed framing.
type frameKind byte

const (
	frameRequest  frameKind = 0
	frameResponse frameKind = 1
)

// Wire layout: [1 byte kind][8 bytes big-endian id][4 bytes big-endian
// length][length bytes payload]. The payload is the canonical RLP encoding
// of a TxStateMachine (txstate.Encode); p2pnet never decodes it itself,
// decoding is the orchestrator's job.
func writeFrame(w io.Writer, kind frameKind, id uint64, payload []byte) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(kind)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, id); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

func readFrame(r io.Reader) (frameKind, uint64, []byte, error) {
	br := bufio.NewReader(r)

	kindByte, err := br.ReadByte()
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read frame kind: %w", err)
	}

	var id uint64
	if err := binary.Read(br, binary.BigEndian, &id); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read frame id: %w", err)
	}

	var length uint32
	if err := binary.Read(br, binary.BigEndian, &length); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	return frameKind(kindByte), id, payload, nil
}

// hashID produces the 64-bit hash of a messaging-assigned request id that
// travels on events as InboundReqID / OutboundReqID.
func hashID(id uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
