package delegate

import "hexfront.gg/internal/net"

// Base carries the common delegate plumbing; concrete delegates embed it
// and override what they need.
type Base struct {
	DelegateName string
	Display      string
	NeedsInput   bool
	Hints        AutoSaveHints

	bridge Bridge
}

func (b *Base) Name() string { return b.DelegateName }

func (b *Base) DisplayName() string {
	if b.Display == "" {
		return b.DelegateName
	}
	return b.Display
}

func (b *Base) SetBridge(br Bridge) { b.bridge = br }
func (b *Base) Bridge() Bridge      { return b.bridge }

func (b *Base) Start() {}
func (b *Base) End()   {}

func (b *Base) RequiresUserInput() bool    { return b.NeedsInput }
func (b *Base) AutoSave() AutoSaveHints    { return b.Hints }
func (b *Base) RemoteHandler() net.Handler { return nil }
