package media

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestObjectKey(t *testing.T) {
	owner := primitive.NewObjectID()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	key := objectKey("clinic/chat/", owner, "Scan.PNG", now)
	assert.True(t, strings.HasPrefix(key, "clinic/chat/"+owner.Hex()+"/20260304/"), "unexpected key %s", key)
	assert.True(t, strings.HasSuffix(key, ".png"), "expected a lower-cased extension")

	other := objectKey("clinic/chat", owner, "Scan.PNG", now)
	assert.NotEqual(t, key, other, "expected keys to be unique per upload")

	bare := objectKey("", owner, "notes", now)
	assert.True(t, strings.HasPrefix(bare, owner.Hex()+"/"))
}

func TestS3PublicURL(t *testing.T) {
	s := &S3{opts: S3Options{Bucket: "attachments", Region: "eu-west-1"}}
	assert.Equal(t, "https://attachments.s3.eu-west-1.amazonaws.com/a/b.png", s.publicURL("a/b.png"))

	s.opts.PublicURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/a/b.png", s.publicURL("a/b.png"))
}
