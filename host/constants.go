package host

// Limits of the simulated host.
const (
	// MaxDevices is the number of addresses the host hands out, 1 through
	// MaxDevices.
	MaxDevices = 16

	// MaxDescriptorSize bounds a configuration or string descriptor read.
	MaxDescriptorSize = 512

	// defaultMaxPacket0 is the endpoint 0 packet size assumed until the
	// device descriptor says otherwise.
	defaultMaxPacket0 = 8
)

// Default Options values, in USB clocks unless noted.
const (
	DefaultReplyTicks    = 256  // device turnaround plus a full packet
	DefaultResetTicks    = 400  // SE0 held to signal a bus reset
	DefaultRecoveryTicks = 400  // settle time after reset and SET_ADDRESS
	DefaultRetryTicks    = 16   // pause after a NAK
	DefaultNAKLimit      = 4096 // NAKs tolerated per transaction
	DefaultErrorLimit    = 3    // consecutive timeouts per transaction
)

// Options tunes the host's bus timing. Zero fields take the defaults.
type Options struct {
	ReplyTicks    int
	ResetTicks    int
	RecoveryTicks int
	RetryTicks    int
	NAKLimit      int
	ErrorLimit    int
}

func (o Options) withDefaults() Options {
	set := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	set(&o.ReplyTicks, DefaultReplyTicks)
	set(&o.ResetTicks, DefaultResetTicks)
	set(&o.RecoveryTicks, DefaultRecoveryTicks)
	set(&o.RetryTicks, DefaultRetryTicks)
	set(&o.NAKLimit, DefaultNAKLimit)
	set(&o.ErrorLimit, DefaultErrorLimit)
	return o
}
