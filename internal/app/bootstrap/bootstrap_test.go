package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/booking-wizard/internal/config"
	"github.com/wolfman30/booking-wizard/internal/events"
	"github.com/wolfman30/booking-wizard/internal/notify"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := logging.Discard()

	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	_ = client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, true))
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logger, true))
}

func TestConnectPostgresRequiresURL(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), "  ", logging.Discard())
	assert.Error(t, err)
}

func TestBuildEventQueueMemory(t *testing.T) {
	cfg := &appconfig.Config{EventsBackend: "memory"}
	queue, closeFn, err := BuildEventQueue(context.Background(), cfg, NewAWSLoader(cfg), logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	assert.IsType(t, &events.MemoryQueue{}, queue)
	assert.NoError(t, closeFn())
}

func TestBuildEventQueueSQS(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		EventsBackend:         "sqs",
		BookingEventsQueueURL: "http://localhost:4566/000000000000/booking-events",
		AWSRegion:             "us-east-1",
		AWSAccessKeyID:        "test",
		AWSSecretAccessKey:    "test",
		AWSEndpointOverride:   "http://localhost:4566",
	}
	queue, _, err := BuildEventQueue(context.Background(), cfg, NewAWSLoader(cfg), logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &events.SQSQueue{}, queue)
}

func TestBuildEmailSenderSelection(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	logger := logging.Discard()
	ctx := context.Background()

	cfg := &appconfig.Config{EmailProvider: "auto"}
	sender, err := BuildEmailSender(ctx, cfg, NewAWSLoader(cfg), logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.StubEmailSender{}, sender)

	cfg = &appconfig.Config{EmailProvider: "auto", SendGridAPIKey: "key", SendGridFromEmail: "desk@example.com"}
	sender, err = BuildEmailSender(ctx, cfg, NewAWSLoader(cfg), logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.SendGridSender{}, sender)

	cfg = &appconfig.Config{EmailProvider: "auto", SESFromEmail: "desk@example.com", AWSRegion: "us-east-1", AWSAccessKeyID: "test", AWSSecretAccessKey: "test"}
	sender, err = BuildEmailSender(ctx, cfg, NewAWSLoader(cfg), logger)
	require.NoError(t, err)
	assert.IsType(t, &notify.SESSender{}, sender)

	cfg = &appconfig.Config{EmailProvider: "sendgrid"}
	_, err = BuildEmailSender(ctx, cfg, NewAWSLoader(cfg), logger)
	assert.Error(t, err)

	cfg = &appconfig.Config{EmailProvider: "none"}
	sender, err = BuildEmailSender(ctx, cfg, NewAWSLoader(cfg), logger)
	require.NoError(t, err)
	assert.Nil(t, sender)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	_, err := Build(context.Background(), &appconfig.Config{EventsBackend: "kafka", EmailProvider: "auto"}, logging.Discard())
	assert.Error(t, err)
}
