package config

// DefaultTimelineSlots is the published timeline grid used when the config
// does not override it.
var DefaultTimelineSlots = []SlotSpec{
	{Start: "09:00", End: "10:30"},
	{Start: "10:30", End: "12:00"},
	{Start: "13:00", End: "14:30"},
	{Start: "14:30", End: "16:00"},
	{Start: "16:00", End: "17:30"},
	{Start: "17:30", End: "19:00"},
}

// applyDefaults fills zero-valued fields with sane defaults.
func applyDefaults(c *Config) {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RequestDeadlineSeconds == 0 {
		c.Server.RequestDeadlineSeconds = 30
	}

	if c.Database.Path == "" {
		c.Database.Path = "dispatchd.db"
	}

	if c.Travel.TimeoutSeconds == 0 {
		c.Travel.TimeoutSeconds = 5
	}
	if c.Travel.FallbackKmh == 0 {
		c.Travel.FallbackKmh = 40
	}

	if c.Scheduling.ShortNoticeHours == 0 {
		c.Scheduling.ShortNoticeHours = 24
	}
	if len(c.Scheduling.TimelineSlots) == 0 {
		c.Scheduling.TimelineSlots = append(c.Scheduling.TimelineSlots, DefaultTimelineSlots...)
	}

	if c.Sweeper.CronSpec == "" {
		c.Sweeper.CronSpec = "@every 15m"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
