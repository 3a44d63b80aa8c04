package dialog

import "github.com/m3rciful/edubot/core/telegram/state"

// Workflow states. One state is active per administrator at a time;
// each text or document input is validated against the current state
// only.
const (
	StateGivePremiumUser     state.State = "admin_give_premium_user"
	StateGivePremiumDuration state.State = "admin_give_premium_duration"
	StateRemovePremiumUser   state.State = "admin_remove_premium_user"
	StateEditPointsUser      state.State = "admin_edit_points_user"
	StateEditPointsValue     state.State = "admin_edit_points_value"
	StateBanUser             state.State = "admin_ban_user"
	StateBanReason           state.State = "admin_ban_reason"
	StateUnbanUser           state.State = "admin_unban_user"
	StateUploadTopic         state.State = "admin_upload_topic"
	StateEditTopicValue      state.State = "admin_edit_topic_value"
	StateBroadcastCompose    state.State = "admin_broadcast_compose"
)

// Session scratch keys.
const (
	tempTargetUser    = "target_user"
	tempTopicKey      = "topic_key"
	tempTopicField    = "topic_field"
	tempPendingUpload = "pending_upload"
	tempPendingKey    = "pending_key"
	tempBroadcastText = "broadcast_text"
)
