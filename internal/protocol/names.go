package protocol

// Stable remote and channel identifiers. The exact strings are a
// compatibility contract; do not edit them.
const (
	ServerRemote = "games.strategy.engine.framework.ServerGame.SERVER_REMOTE"

	DelegateRemotePrefix     = "games.strategy.engine.framework.ServerGame.DELEGATE_REMOTE."
	PlayerRemotePrefix       = "games.strategy.engine.framework.ServerGame.PLAYER_REMOTE."
	PlayerRandomRemotePrefix = "games.strategy.engine.framework.ServerGame.PLAYER_RANDOM_REMOTE"

	StepAdvancerRemotePrefix = "games.strategy.engine.framework.ClientGame.CLIENT_REMOTE_STEP_ADVANCER:"

	GameModificationChannel = "GAME_MODIFICATION_CHANNEL"
)

func DelegateRemoteName(delegateName string) string {
	return DelegateRemotePrefix + delegateName
}

func PlayerRemoteName(playerName string) string {
	return PlayerRemotePrefix + playerName
}

func PlayerRandomRemoteName(playerName string) string {
	return PlayerRandomRemotePrefix + playerName
}

func StepAdvancerRemoteName(nodeName string) string {
	return StepAdvancerRemotePrefix + nodeName
}
