package logd

// receives application messages and extends derived settings.
// Both methods are optional in spirit: embed `NoopDelegate` or use `DelegateFuncs`
// to implement only one.
type Delegate interface {
	// called after each accepted builtin command, on the client event loop
	HandleMessage(message Message)
	// called at the end of settings derivation for a login profile.
	// `settings` may be modified in place.
	ExtendSettings(profile Profile, settings Settings)
}

type NoopDelegate struct{}

func (self NoopDelegate) HandleMessage(message Message) {}

func (self NoopDelegate) ExtendSettings(profile Profile, settings Settings) {}

// a delegate from optional functions
type DelegateFuncs struct {
	HandleMessageFunc  func(message Message)
	ExtendSettingsFunc func(profile Profile, settings Settings)
}

func (self *DelegateFuncs) HandleMessage(message Message) {
	if self.HandleMessageFunc != nil {
		self.HandleMessageFunc(message)
	}
}

func (self *DelegateFuncs) ExtendSettings(profile Profile, settings Settings) {
	if self.ExtendSettingsFunc != nil {
		self.ExtendSettingsFunc(profile, settings)
	}
}
