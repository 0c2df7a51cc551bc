// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rpc exposes internal/pipeline.Pipeline's synchronous surfaces
// (detect/decide/apply/rollback/list_rules/get_audit) as a gRPC service,
// hand-wiring a grpc.ServiceDesc against a JSON wire codec rather than
// protoc-generated stubs, since no .proto/codegen for this service
// exists anywhere in this tree.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as this gRPC installation's sole wire codec,
// forced on both client and server via grpc.ForceCodec/ForceServerCodec
// so neither side needs a generated protobuf codec.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec (renamed encoding.CodecV2's
// predecessor interface) by marshaling every request/response struct as
// JSON instead of protobuf wire bytes.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }
