package serializer

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/lumen-data/firestream/internal/wire"
)

// JSON is the default Serializer: every frame is a single flat JSON
// document. It has no knowledge of HTTP/2 framing or gRPC message
// prefixes; that belongs to the transport, which hands this package
// already-unwrapped message bytes.
type JSON struct{}

var _ Serializer = JSON{}

func (JSON) EncodeAddTarget(t wire.Target) ([]byte, error) {
	b, err := sjson.SetBytes(nil, "addTarget.targetId", t.TargetID)
	if err != nil {
		return nil, err
	}
	b, err = sjson.SetRawBytes(b, "addTarget.query", t.Query)
	if err != nil {
		return nil, err
	}
	if len(t.Labels) > 0 {
		labels := "{}"
		for k, v := range t.Labels {
			var err error
			if labels, err = sjson.Set(labels, k, v); err != nil {
				return nil, err
			}
		}
		if b, err = sjson.SetRawBytes(b, "addTarget.labels", []byte(labels)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (JSON) EncodeRemoveTarget(targetID int32) ([]byte, error) {
	return sjson.SetBytes(nil, "removeTarget", targetID)
}

func (JSON) DecodeListenResponse(frame []byte) (wire.WatchChange, time.Time, error) {
	root := gjson.ParseBytes(frame)

	readTime := parseTimestamp(root.Get("readTime"))

	if dc := root.Get("documentChange"); dc.Exists() {
		return wire.WatchChange{
			Kind:        wire.KindDocumentChange,
			TargetIDs:   int32Slice(dc.Get("targetIds")),
			DocumentKey: dc.Get("document.name").String(),
			Document:    []byte(dc.Get("document").Raw),
			ReadTime:    readTime,
		}, readTime, nil
	}
	if dd := root.Get("documentDelete"); dd.Exists() {
		return wire.WatchChange{
			Kind:        wire.KindDocumentDelete,
			TargetIDs:   int32Slice(dd.Get("removedTargetIds")),
			DocumentKey: dd.Get("document").String(),
			ReadTime:    readTime,
		}, readTime, nil
	}
	if dr := root.Get("documentRemove"); dr.Exists() {
		return wire.WatchChange{
			Kind:        wire.KindDocumentRemove,
			TargetIDs:   int32Slice(dr.Get("removedTargetIds")),
			DocumentKey: dr.Get("document").String(),
			ReadTime:    readTime,
		}, readTime, nil
	}
	if tc := root.Get("targetChange"); tc.Exists() {
		change := wire.WatchChange{
			TargetIDs: int32Slice(tc.Get("targetIds")),
			ReadTime:  readTime,
			Cause:     tc.Get("cause.message").String(),
		}
		switch tc.Get("targetChangeType").String() {
		case "CURRENT":
			change.Kind = wire.KindTargetCurrent
		case "RESET":
			change.Kind = wire.KindTargetReset
		case "ADD":
			change.Kind = wire.KindTargetAdd
		case "REMOVE":
			change.Kind = wire.KindTargetRemove
		default:
			change.Kind = wire.KindTargetNoChange
		}
		return change, readTime, nil
	}
	if f := root.Get("filter"); f.Exists() {
		return wire.WatchChange{Kind: wire.KindFilter, TargetIDs: []int32{int32(f.Get("targetId").Int())}, ReadTime: readTime}, readTime, nil
	}
	return wire.WatchChange{}, time.Time{}, fmt.Errorf("serializer: unrecognized listen-response frame")
}

func (JSON) EncodeHandshake(databaseID string) ([]byte, error) {
	return sjson.SetBytes(nil, "database", databaseID)
}

func (JSON) EncodeMutations(mutations []wire.Mutation, streamToken []byte) ([]byte, error) {
	b, err := sjson.SetBytes(nil, "streamToken", streamToken)
	if err != nil {
		return nil, err
	}
	for i, m := range mutations {
		path := fmt.Sprintf("writes.%d", i)
		if b, err = sjson.SetBytes(b, path+".kind", m.Kind); err != nil {
			return nil, err
		}
		if b, err = sjson.SetBytes(b, path+".documentPath", m.DocumentPath); err != nil {
			return nil, err
		}
		if len(m.Fields) > 0 {
			if b, err = sjson.SetRawBytes(b, path+".fields", m.Fields); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func (JSON) DecodeWriteResponse(frame []byte) (wire.WriteResponse, error) {
	root := gjson.ParseBytes(frame)
	if !root.Exists() {
		return wire.WriteResponse{}, fmt.Errorf("serializer: empty write-response frame")
	}
	resp := wire.WriteResponse{
		StreamToken: []byte(root.Get("streamToken").String()),
		CommitTime:  parseTimestamp(root.Get("commitTime")),
	}
	for _, wr := range root.Get("writeResults").Array() {
		result := wire.WriteResult{UpdateTime: parseTimestamp(wr.Get("updateTime"))}
		for _, tr := range wr.Get("transformResults").Array() {
			result.TransformResults = append(result.TransformResults, []byte(tr.Raw))
		}
		resp.WriteResults = append(resp.WriteResults, result)
	}
	return resp, nil
}

func (JSON) EncodeCommit(mutations []wire.Mutation) ([]byte, error) {
	var b []byte
	var err error
	for i, m := range mutations {
		path := fmt.Sprintf("writes.%d", i)
		if b, err = sjson.SetBytes(b, path+".kind", m.Kind); err != nil {
			return nil, err
		}
		if b, err = sjson.SetBytes(b, path+".documentPath", m.DocumentPath); err != nil {
			return nil, err
		}
		if len(m.Fields) > 0 {
			if b, err = sjson.SetRawBytes(b, path+".fields", m.Fields); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

func (JSON) DecodeCommitResponse(frame []byte) (time.Time, []wire.WriteResult, error) {
	root := gjson.ParseBytes(frame)
	if !root.Exists() {
		return time.Time{}, nil, fmt.Errorf("serializer: empty commit-response frame")
	}
	commitTime := parseTimestamp(root.Get("commitTime"))
	var results []wire.WriteResult
	for _, wr := range root.Get("writeResults").Array() {
		result := wire.WriteResult{UpdateTime: parseTimestamp(wr.Get("updateTime"))}
		for _, tr := range wr.Get("transformResults").Array() {
			result.TransformResults = append(result.TransformResults, []byte(tr.Raw))
		}
		results = append(results, result)
	}
	return commitTime, results, nil
}

func (JSON) EncodeBatchGet(documentPaths []string) ([]byte, error) {
	var b []byte
	var err error
	for i, p := range documentPaths {
		if b, err = sjson.SetBytes(b, fmt.Sprintf("documents.%d", i), p); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (JSON) DecodeLookupResult(frame []byte) (wire.LookupResult, error) {
	root := gjson.ParseBytes(frame)
	if !root.Exists() {
		return wire.LookupResult{}, fmt.Errorf("serializer: empty batch-get-response frame")
	}
	readTime := parseTimestamp(root.Get("readTime"))
	if found := root.Get("found"); found.Exists() {
		return wire.LookupResult{
			DocumentPath: found.Get("name").String(),
			Found:        true,
			Document:     []byte(found.Raw),
			ReadTime:     readTime,
		}, nil
	}
	if missing := root.Get("missing"); missing.Exists() {
		return wire.LookupResult{DocumentPath: missing.String(), Found: false, ReadTime: readTime}, nil
	}
	return wire.LookupResult{}, fmt.Errorf("serializer: unrecognized batch-get-response frame")
}

func int32Slice(v gjson.Result) []int32 {
	arr := v.Array()
	if len(arr) == 0 {
		return nil
	}
	out := make([]int32, len(arr))
	for i, e := range arr {
		out[i] = int32(e.Int())
	}
	return out
}

func parseTimestamp(v gjson.Result) time.Time {
	if !v.Exists() {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
		return t
	}
	seconds := v.Get("seconds").Int()
	nanos := v.Get("nanos").Int()
	return timestamppb.New(time.Unix(seconds, nanos)).AsTime()
}
