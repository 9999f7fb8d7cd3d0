// Package qrcode 二维码生成单元测试
package qrcode

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGenerator(t *testing.T) {
	g := NewGenerator()
	assert.Equal(t, 256, g.size)
	assert.Equal(t, Medium, g.recoveryLevel)

	g = NewGenerator(WithSize(128), WithRecoveryLevel(High))
	assert.Equal(t, 128, g.size)
	assert.Equal(t, High, g.recoveryLevel)

	g = NewGenerator(WithSize(0))
	assert.Equal(t, 256, g.size)
}

func TestGenerator_GeneratePNG(t *testing.T) {
	g := NewGenerator(WithSize(200))

	data, err := g.GeneratePNG("https://shop.example.com/?ref=ABC123")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, img.Bounds().Dx(), img.Bounds().Dy())

	_, err = g.GeneratePNG("")
	assert.Error(t, err)
}

func TestGenerator_GenerateDataURL(t *testing.T) {
	for _, level := range []RecoveryLevel{Low, Medium, High, Highest} {
		url, err := NewGenerator(WithRecoveryLevel(level)).GenerateDataURL("ABC123")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	}
}

func TestReferralLink(t *testing.T) {
	tests := []struct {
		name    string
		site    string
		param   string
		want    string
		wantErr bool
	}{
		{"普通站点", "https://shop.example.com", "ref", "https://shop.example.com?ref=ABC123", false},
		{"保留已有参数", "https://shop.example.com/landing?utm=mail", "ref", "https://shop.example.com/landing?ref=ABC123&utm=mail", false},
		{"默认参数名", "https://shop.example.com/", "", "https://shop.example.com/?ref=ABC123", false},
		{"缺少协议", "shop.example.com", "ref", "", true},
		{"空地址", "", "ref", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReferralLink(tt.site, tt.param, "ABC123")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
