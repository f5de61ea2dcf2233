package cache

import (
	"fmt"

	"github.com/amityvox/notifyd/internal/config"
	"github.com/amityvox/notifyd/internal/models"
)

// ConfigChannelDefaults implements ChannelDefaults from the operator-wide
// channel settings in the loaded config, used to synthesize an
// auto-generated credential the first time a tenant sends over a channel.
type ConfigChannelDefaults struct {
	channels config.ChannelsConfig
}

// NewConfigChannelDefaults constructs a ChannelDefaults over cfg.
func NewConfigChannelDefaults(cfg config.ChannelsConfig) *ConfigChannelDefaults {
	return &ConfigChannelDefaults{channels: cfg}
}

// DefaultSecrets implements ChannelDefaults.
func (d *ConfigChannelDefaults) DefaultSecrets(channel models.Channel) map[string]string {
	switch channel {
	case models.ChannelEmail:
		return map[string]string{
			"smtp_host": d.channels.SMTP.Host,
			"smtp_port": fmt.Sprintf("%d", d.channels.SMTP.Port),
			"smtp_user": d.channels.SMTP.User,
			"smtp_pass": d.channels.SMTP.Pass,
			"from":      d.channels.SMTP.From,
			"ssl":       fmt.Sprintf("%t", d.channels.SMTP.SSL),
		}
	case models.ChannelSMS:
		return map[string]string{
			"endpoint":    d.channels.SMS.Endpoint,
			"account_sid": d.channels.SMS.AccountSID,
			"auth_token":  d.channels.SMS.AuthToken,
			"from":        d.channels.SMS.From,
		}
	case models.ChannelPush:
		return map[string]string{
			"service_account_json": d.channels.FCM.ServiceAccountJSON,
			"project_id":           d.channels.FCM.ProjectID,
		}
	default:
		return map[string]string{}
	}
}
