package services

import (
	"chatbot/models"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsToConversations(t *testing.T) {
	items := []map[string]types.AttributeValue{
		{
			"ID":        &types.AttributeValueMemberS{Value: "m1"},
			"SessionID": &types.AttributeValueMemberS{Value: "sess-1"},
			"SiteID":    &types.AttributeValueMemberS{Value: "site-a"},
			"Role":      &types.AttributeValueMemberS{Value: "assistant"},
			"Content":   &types.AttributeValueMemberS{Value: "月額1万円です。"},
			"SourceURL": &types.AttributeValueMemberS{Value: "https://a/pricing"},
			"Timestamp": &types.AttributeValueMemberS{Value: "2024-06-01T00:00:05.100000000Z"},
			"isLiked":   &types.AttributeValueMemberBOOL{Value: true},
		},
	}

	convs := itemsToConversations(items)
	require.Len(t, convs, 1)
	c := convs[0]
	assert.Equal(t, models.RoleAssistant, c.Role)
	assert.Equal(t, "https://a/pricing", c.SourceURL)
	assert.Equal(t, 100_000_000, c.Timestamp.Nanosecond())
	require.NotNil(t, c.IsLiked)
	assert.True(t, *c.IsLiked)
	assert.Nil(t, c.IsDisliked)

	turns := models.Turns(convs)
	assert.Equal(t, []models.ChatTurn{{Role: models.RoleAssistant, Text: "月額1万円です。"}}, turns)
}

func TestRecentQueryInputLimit(t *testing.T) {
	in := recentQueryInput("Conversations", "sess-1", 6)
	require.NotNil(t, in.Limit)
	assert.Equal(t, int32(6), *in.Limit)
	assert.False(t, *in.ScanIndexForward)

	// DynamoDBはLimit=0を受け付けない
	assert.Nil(t, recentQueryInput("Conversations", "sess-1", 0).Limit)
	assert.Nil(t, recentQueryInput("Conversations", "sess-1", -1).Limit)
}
