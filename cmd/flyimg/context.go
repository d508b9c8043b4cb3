package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/flyimg/internal/config"
	"github.com/dunamismax/flyimg/internal/options"
	"github.com/dunamismax/flyimg/internal/urlbuild"
)

type commandContext struct {
	instanceFlag    string
	optionsFileFlag string
	secretFlag      string
	timeoutFlag     time.Duration

	loadOnce   sync.Once
	config     config.Config
	options    options.Config
	optionsErr error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) load() {
	c.loadOnce.Do(func() {
		c.config = config.Load()
		if path := strings.TrimSpace(c.optionsFileFlag); path != "" {
			c.config.Flyimg.OptionsFile = path
		}
		c.options, c.optionsErr = c.config.Flyimg.OptionsConfig()
	})
}

func (c *commandContext) optionsConfig() (options.Config, error) {
	c.load()
	return c.options, c.optionsErr
}

func (c *commandContext) instanceURL() (string, error) {
	c.load()
	instance := strings.TrimSpace(c.instanceFlag)
	if instance == "" {
		instance = strings.TrimSpace(c.config.Flyimg.URL)
	}
	if instance == "" {
		return "", fmt.Errorf("instance URL is required (--instance or FLYIMG_URL)")
	}
	return instance, nil
}

func (c *commandContext) signer() urlbuild.Signer {
	c.load()
	secret := c.secretFlag
	if secret == "" {
		secret = c.config.Flyimg.SigningSecret
	}
	if secret == "" {
		return nil
	}
	return urlbuild.HMACSigner(secret)
}

func (c *commandContext) timeout() time.Duration {
	c.load()
	if c.timeoutFlag > 0 {
		return c.timeoutFlag
	}
	return c.config.Flyimg.HTTPTimeout
}

func (c *commandContext) uploadField() string {
	c.load()
	return c.config.Flyimg.UploadField
}
