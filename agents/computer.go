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

import "context"

// Environment identifies the kind of screen a Computer controls.
type Environment string

const (
	EnvironmentMac     Environment = "mac"
	EnvironmentWindows Environment = "windows"
	EnvironmentUbuntu  Environment = "ubuntu"
	EnvironmentBrowser Environment = "browser"
)

// Button is a pointing-device button.
type Button string

const (
	ButtonLeft    Button = "left"
	ButtonRight   Button = "right"
	ButtonWheel   Button = "wheel"
	ButtonBack    Button = "back"
	ButtonForward Button = "forward"
)

// Computer is a controllable screen environment. Screenshot returns a
// base64-encoded image; it is taken after every action to show the model
// the effect.
type Computer interface {
	Environment(ctx context.Context) (Environment, error)
	Dimensions(ctx context.Context) (width, height int64, err error)
	Screenshot(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y int64, button Button) error
	DoubleClick(ctx context.Context, x, y int64) error
	Scroll(ctx context.Context, x, y int64, scrollX, scrollY int64) error
	Type(ctx context.Context, text string) error
	Wait(ctx context.Context) error
	Move(ctx context.Context, x, y int64) error
	Keypress(ctx context.Context, keys []string) error
	Drag(ctx context.Context, path [][2]int64) error
}

// ComputerToolSafetyCheckData describes a pending safety check raised by the
// backend for a computer action.
type ComputerToolSafetyCheckData struct {
	Agent       *Agent
	ToolCall    any
	SafetyCheck any
}

// ComputerTool lets the model drive a Computer.
type ComputerTool struct {
	Computer Computer

	// OnSafetyCheck acknowledges pending safety checks. Returning false, or
	// leaving this nil while a check is pending, aborts the run.
	OnSafetyCheck func(ctx context.Context, data ComputerToolSafetyCheckData) (bool, error)
}

func (t ComputerTool) ToolName() string { return "computer_use_preview" }

func (ComputerTool) isTool() {}
