package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEmail(t *testing.T) {
	assert.True(t, IsEmail("test@example.com"))
	assert.True(t, IsEmail("a.b+c@sub.example.co"))
	assert.False(t, IsEmail("invalid-email"))
	assert.False(t, IsEmail("a b@example.com"))
	assert.False(t, IsEmail("a@example"))
	assert.False(t, IsEmail("a\u00a0b@c.com"))
	assert.False(t, IsEmail("a@c\u3000d.com"))
	assert.False(t, IsEmail("a\vb@c.com"))
	assert.False(t, IsEmail("a\ufeffb@c.com"))
	assert.True(t, IsEmail("josé@exämple.com"))
	assert.False(t, IsEmail(""))
}

func TestIsPhone(t *testing.T) {
	assert.True(t, IsPhone("13800138000"))
	assert.True(t, IsPhone("19912345678"))
	assert.False(t, IsPhone("12345678901"))
	assert.False(t, IsPhone("1380013800"))
	assert.False(t, IsPhone("138001380001"))
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.com"))
	assert.True(t, IsURL("ws://localhost:7070/ws"))
	assert.True(t, IsURL("mailto:someone@example.com"))
	assert.False(t, IsURL("not-a-url"))
	assert.False(t, IsURL("/relative/path"))
	assert.False(t, IsURL(""))
}

func TestIsIDCard(t *testing.T) {
	assert.True(t, IsIDCard("110101199001011234"))
	assert.True(t, IsIDCard("11010120000229123X"))
	assert.False(t, IsIDCard("123456"))
	assert.False(t, IsIDCard("010101199001011234"), "leading zero")
	assert.False(t, IsIDCard("110101199013011234"), "month 13")
	assert.False(t, IsIDCard("110101170001011234"), "century 17")
}
