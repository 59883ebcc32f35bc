// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/devblok/vkframe/gfx/vkr"
	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"
)

var (
	validation = flag.Bool("vkdbg", false, "enable the vulkan validation layer")
	selectOnly = flag.Bool("select", false, "print only the adapter that would be selected")
	indent     = flag.Bool("indent", true, "indent the json output")
)

func marshal(v interface{}) ([]byte, error) {
	if *indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func main() {
	flag.Parse()
	log.SetOutput(os.Stderr)

	instance, err := vkr.NewInstance(vkr.DefaultApplicationInfo, vkr.InstanceConfiguration{
		Validation: *validation,
	})
	if err != nil {
		log.WithError(err).Fatal("creating instance")
	}
	defer instance.Destroy()

	adapters, err := instance.Adapters(vk.NullSurface)
	if err != nil {
		log.WithError(err).Fatal("probing adapters")
	}

	var out interface{} = adapters
	if *selectOnly {
		adapter, err := vkr.SelectAdapter(adapters, vkr.Requirements{})
		if err != nil {
			log.WithError(err).Fatal("selecting adapter")
		}
		out = adapter
	}

	bytes, err := marshal(out)
	if err != nil {
		log.WithError(err).Fatal("encoding adapters")
	}
	fmt.Printf("%s\n", bytes)
}
