package crypto

// sasWords maps one byte of SAS material to a word.
var sasWords = [256]string{
	"acid", "acorn", "actor", "adobe", "agent", "alarm", "album", "alley",
	"amber", "anchor", "angle", "ankle", "apple", "apron", "arena", "armor",
	"arrow", "atlas", "attic", "audio", "autumn", "avocado", "badge", "bagel",
	"baker", "bamboo", "banjo", "barrel", "basil", "basket", "beacon", "beaver",
	"bells", "berry", "bison", "blade", "blanket", "blaze", "blossom", "bonus",
	"border", "bottle", "boulder", "bracket", "branch", "brass", "bread", "brick",
	"bridge", "broom", "bubble", "bucket", "buffalo", "bugle", "bunny", "butter",
	"cabin", "cactus", "camel", "canal", "candle", "canoe", "canvas", "canyon",
	"carbon", "cargo", "carpet", "carrot", "castle", "cedar", "cello", "chalk",
	"charm", "cherry", "chess", "chimney", "cider", "cinema", "circus", "citrus",
	"clay", "cliff", "clock", "cloud", "clover", "cobalt", "cocoa", "comet",
	"copper", "coral", "corner", "cotton", "cougar", "crane", "crater", "crayon",
	"cricket", "crown", "crystal", "cuckoo", "curtain", "dagger", "daisy", "dancer",
	"delta", "denim", "desert", "diamond", "dolphin", "domino", "donkey", "dragon",
	"drum", "eagle", "easel", "echo", "eclipse", "elbow", "ember", "engine",
	"falcon", "fennel", "ferry", "fiddle", "flask", "flute", "forest", "fossil",
	"fountain", "fox", "galaxy", "garden", "garlic", "gazelle", "gecko", "geyser",
	"ginger", "glacier", "globe", "goblet", "gopher", "granite", "grape", "gravel",
	"guitar", "hammer", "harbor", "harvest", "hazel", "helmet", "heron", "hollow",
	"honey", "horizon", "hornet", "igloo", "island", "ivory", "jacket", "jaguar",
	"jasmine", "jelly", "jigsaw", "jungle", "kayak", "kettle", "kiwi", "koala",
	"ladder", "lagoon", "lantern", "laser", "lemon", "lentil", "lily", "lizard",
	"lobster", "locket", "lotus", "magnet", "mango", "maple", "marble", "meadow",
	"melon", "meteor", "mirror", "mitten", "mosaic", "muffin", "nectar", "needle",
	"nickel", "noodle", "nutmeg", "oasis", "ocean", "olive", "onion", "orbit",
	"orchid", "otter", "oyster", "paddle", "palace", "panda", "papaya", "parrot",
	"peanut", "pebble", "pepper", "piano", "pickle", "pigeon", "pillow", "pilot",
	"pirate", "planet", "plum", "pocket", "polar", "pony", "poppy", "prism",
	"pumpkin", "puzzle", "quartz", "quill", "rabbit", "radar", "radish", "raven",
	"ribbon", "river", "robot", "rocket", "saddle", "saffron", "salmon", "sandal",
	"satin", "scarf", "shadow", "shovel", "silver", "sketch", "sparrow", "spider",
	"spruce", "squid", "stable", "statue", "summit", "sunset", "swan", "tablet",
}
