// Copyright 2025 The Flowcortex Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agents

import (
	"context"

	"github.com/openai/openai-go/v3/responses"
)

// ApplyPatchOperationType is the kind of file edit requested by the model.
type ApplyPatchOperationType string

const (
	ApplyPatchOperationCreateFile ApplyPatchOperationType = "create_file"
	ApplyPatchOperationUpdateFile ApplyPatchOperationType = "update_file"
	ApplyPatchOperationDeleteFile ApplyPatchOperationType = "delete_file"
)

// ApplyPatchOperation is one file edit.
type ApplyPatchOperation struct {
	Type ApplyPatchOperationType
	Path string
	Diff string
}

func applyPatchOperationFromCall(call responses.ResponseApplyPatchToolCall) (ApplyPatchOperation, error) {
	op := ApplyPatchOperation{
		Type: ApplyPatchOperationType(call.Operation.Type),
		Path: call.Operation.Path,
		Diff: call.Operation.Diff,
	}
	switch op.Type {
	case ApplyPatchOperationCreateFile, ApplyPatchOperationUpdateFile:
		if op.Diff == "" {
			return op, ModelBehaviorErrorf("apply_patch operation %s is missing the diff payload", op.Type)
		}
	case ApplyPatchOperationDeleteFile:
	default:
		return op, ModelBehaviorErrorf("unknown apply_patch operation: %q", call.Operation.Type)
	}
	if op.Path == "" {
		return op, ModelBehaviorErrorf("apply_patch operation is missing a path")
	}
	return op, nil
}

// Editor applies patch operations to the workspace. Each method returns a
// short status message shown to the model.
type Editor interface {
	CreateFile(ctx context.Context, op ApplyPatchOperation) (string, error)
	UpdateFile(ctx context.Context, op ApplyPatchOperation) (string, error)
	DeleteFile(ctx context.Context, op ApplyPatchOperation) (string, error)
}

// ApplyPatchNeedsApproval decides whether a patch operation requires
// approval.
type ApplyPatchNeedsApproval interface {
	NeedsApproval(ctx context.Context, op ApplyPatchOperation) (bool, error)
}

type ApplyPatchNeedsApprovalFunc func(ctx context.Context, op ApplyPatchOperation) (bool, error)

func (f ApplyPatchNeedsApprovalFunc) NeedsApproval(ctx context.Context, op ApplyPatchOperation) (bool, error) {
	return f(ctx, op)
}

// ApplyPatchTool lets the model edit files through a caller-supplied Editor.
type ApplyPatchTool struct {
	Editor        Editor
	NeedsApproval ApplyPatchNeedsApproval
}

func (t ApplyPatchTool) ToolName() string { return "apply_patch" }

func (ApplyPatchTool) isTool() {}

func invokeEditor(ctx context.Context, editor Editor, op ApplyPatchOperation) (string, error) {
	switch op.Type {
	case ApplyPatchOperationCreateFile:
		return editor.CreateFile(ctx, op)
	case ApplyPatchOperationUpdateFile:
		return editor.UpdateFile(ctx, op)
	case ApplyPatchOperationDeleteFile:
		return editor.DeleteFile(ctx, op)
	}
	return "", ModelBehaviorErrorf("unknown apply_patch operation: %q", op.Type)
}
