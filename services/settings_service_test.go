package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
)

func TestSettingsService_Load(t *testing.T) {
	repo := &memSettings{}
	svc := NewSettingsService(repo, zap.NewNop())

	got, serr := svc.Load(context.Background())
	require.Nil(t, serr)
	assert.Equal(t, models.DefaultSiteSettings(), got)

	repo.rows = []models.SiteSetting{
		{Key: SettingStudioName, Value: "Estúdio Luz"},
		{Key: SettingWhatsApp, Value: "+55 11 99999-0000"},
		{Key: SettingDefaultPhotoPrice, Value: "2200"},
		{Key: SettingFooterText, Value: "   "},
		{Key: "unknown_key", Value: "x"},
	}
	got, serr = svc.Load(context.Background())
	require.Nil(t, serr)
	assert.Equal(t, "Estúdio Luz", got.StudioName)
	assert.Equal(t, "+55 11 99999-0000", got.WhatsApp)
	assert.Equal(t, 2200, got.DefaultPhotoPriceCents)
	assert.Equal(t, "", got.FooterText)

	repo.rows = []models.SiteSetting{{Key: SettingDefaultPhotoPrice, Value: "R$ 15"}}
	got, serr = svc.Load(context.Background())
	require.Nil(t, serr)
	assert.Equal(t, 1500, got.DefaultPhotoPriceCents)

	repo.err = errors.New("connection refused")
	_, serr = svc.Load(context.Background())
	require.NotNil(t, serr)
	assert.Equal(t, CodeInternal, serr.Code)
}
