package runner

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// streamDemux maintains the line buffer for newline-delimited JSON stdout
// and maps each complete line to a StreamChunk by its "type" field (spec
// §4.1 "Streaming demux"). The CLI's exact type vocabulary is inferred from
// observed output; unknown types are skipped without failing the run.
type streamDemux struct {
	onChunk func(contracts.StreamChunk)
	log     *slog.Logger
}

func newStreamDemux(onChunk func(contracts.StreamChunk), log *slog.Logger) *streamDemux {
	if log == nil {
		log = slog.Default()
	}
	return &streamDemux{onChunk: onChunk, log: log}
}

// copyAndDemux reads from src, writing every byte to dst verbatim (so the
// full buffered transcript is always available for RawOutput / fallback
// parsing), and — when streaming is active — decodes and delivers each
// complete line before reading the next chunk, preserving in-order
// delivery per spec §5.
func (d *streamDemux) copyAndDemux(src io.Reader, dst io.Writer, streaming bool) error {
	if !streaming {
		_, err := io.Copy(dst, src)
		return err
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if _, err := dst.Write(line); err != nil {
			return err
		}
		if _, err := dst.Write([]byte("\n")); err != nil {
			return err
		}
		d.handleLine(line)
	}
	return scanner.Err()
}

type streamEnvelope struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		StopReason string `json:"stop_reason"`
		Content    json.RawMessage `json:"content"`
	} `json:"message"`
}

func (d *streamDemux) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	var env streamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		d.log.Debug("skipping malformed stream line", "error", err)
		return
	}

	switch env.Type {
	case "content_block_delta":
		if env.Delta.Text != "" {
			d.emit(contracts.StreamChunk{Kind: contracts.StreamChunkDelta, Text: env.Delta.Text})
		}
	case "assistant":
		if text := firstText(env.Message.Content); text != "" {
			d.emit(contracts.StreamChunk{Kind: contracts.StreamChunkDelta, Text: text})
		}
	case "message_stop", "message_end":
		stopReason := env.Message.StopReason
		if stopReason == "" {
			stopReason = "end_turn"
		}
		d.emit(contracts.StreamChunk{Kind: contracts.StreamChunkEnd, StopReason: stopReason})
	default:
		d.log.Debug("skipping unknown stream chunk type", "type", env.Type)
	}
}

func (d *streamDemux) emit(chunk contracts.StreamChunk) {
	if d.onChunk != nil {
		d.onChunk(chunk)
	}
}

// firstText extracts the text of an "assistant" message's content field,
// which the CLI may encode either as a bare string or as a list of content
// blocks whose first element carries a "text" field (spec §4.1).
func firstText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var asBlocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &asBlocks); err == nil && len(asBlocks) > 0 {
		return asBlocks[0].Text
	}
	return ""
}
