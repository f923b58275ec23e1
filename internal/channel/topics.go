package channel

// Topic layout under journeys/<journeyID>/. Location and lifecycle topics
// are per-user so subscribers use a single-level wildcard; achievements are
// addressed to one participant.

func topicLocation(journeyID, userID string) string {
	return "journeys/" + journeyID + "/location/" + userID
}

func topicLocations(journeyID string) string {
	return "journeys/" + journeyID + "/location/+"
}

func topicLifecycle(journeyID, userID string) string {
	return "journeys/" + journeyID + "/lifecycle/" + userID
}

func topicLifecycles(journeyID string) string {
	return "journeys/" + journeyID + "/lifecycle/+"
}

func topicEvents(journeyID string) string {
	return "journeys/" + journeyID + "/events"
}

func topicCompleted(journeyID string) string {
	return "journeys/" + journeyID + "/completed"
}

func topicAchievements(journeyID, userID string) string {
	return "journeys/" + journeyID + "/achievements/" + userID
}
